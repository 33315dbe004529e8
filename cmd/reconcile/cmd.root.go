package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd lệnh gốc: reconcile run | serve | schedule
func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "reconcile",
		Short:         "Dọn metadata video coach training (tên, phân loại, session, trùng lặp)",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&envFile, "env", "", "file env (mặc định config/env/<GO_ENV>.env)")

	root.AddCommand(newRunCmd(&envFile), newServeCmd(&envFile), newScheduleCmd(&envFile))
	return root
}
