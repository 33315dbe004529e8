package utility

import (
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// GoProtect chạy f và bắt panic, log lại thay vì làm dừng cả process.
// Trả về true nếu f chạy xong không panic.
func GoProtect(l logrus.FieldLogger, f func()) (ok bool) {
	defer func() {
		// Sử dụng recover() để bắt lỗi panic nếu có
		if err := recover(); err != nil {
			ok = false
			if l == nil {
				fmt.Printf("Đã bắt lỗi panic: %v\n", err)
				return
			}
			l.WithFields(logrus.Fields{
				"panic": fmt.Sprintf("%v", err),
				"stack": string(debug.Stack()),
			}).Error("Đã bắt lỗi panic")
		}
	}()

	f()
	return true
}
