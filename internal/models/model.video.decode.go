package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var weekDigits = regexp.MustCompile(`\d+`)

// DecodeVideoRecord chuyển document dạng map (đã chuẩn hoá kiểu từ driver) sang VideoRecord.
// Trả về issues cho các giá trị cũ không nhận diện được (bị bỏ qua, record vẫn được xử lý)
// và lỗi nếu field sai kiểu không thể dùng được.
func DecodeVideoRecord(id string, data map[string]interface{}) (*VideoRecord, []string, error) {
	rec := &VideoRecord{ID: id, Raw: data}
	var issues []string
	var err error

	if rec.DriveID, err = scalarString(data[FieldDriveID]); err != nil {
		return nil, nil, fieldErr(FieldDriveID, err)
	}
	if rec.Filename, err = strictString(data[FieldFilename]); err != nil {
		return nil, nil, fieldErr(FieldFilename, err)
	}
	if rec.Title, err = strictString(data[FieldTitle]); err != nil {
		return nil, nil, fieldErr(FieldTitle, err)
	}
	if rec.Tags, err = stringList(data[FieldTags]); err != nil {
		return nil, nil, fieldErr(FieldTags, err)
	}
	if rec.MergedFrom, err = stringList(data[FieldMergedFrom]); err != nil {
		return nil, nil, fieldErr(FieldMergedFrom, err)
	}
	if rec.ReviewReasons, err = stringList(data[FieldReviewReasons]); err != nil {
		return nil, nil, fieldErr(FieldReviewReasons, err)
	}

	for field, dst := range map[string]**string{
		FieldParsedCoach:   &rec.ParsedCoach,
		FieldParsedStudent: &rec.ParsedStudent,
		FieldDataSource:    &rec.DataSource,
	} {
		s, err := strictString(data[field])
		if err != nil {
			return nil, nil, fieldErr(field, err)
		}
		*dst = StrPtr(strings.TrimSpace(s))
	}

	for field, dst := range map[string]*Category{
		FieldCategory:    &rec.Category,
		FieldSessionType: &rec.SessionType,
	} {
		s, err := strictString(data[field])
		if err != nil {
			return nil, nil, fieldErr(field, err)
		}
		if s == "" {
			continue
		}
		c, ok := ParseCategory(s)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s: giá trị không nhận diện được %q", field, s))
			continue
		}
		*dst = c
	}

	week, err := scalarString(data[FieldParsedWeek])
	if err != nil {
		return nil, nil, fieldErr(FieldParsedWeek, err)
	}
	if week != "" {
		if m := weekDigits.FindString(week); m != "" {
			n, _ := strconv.Atoi(m)
			w := strconv.Itoa(n)
			rec.ParsedWeek = &w
		} else {
			issues = append(issues, fmt.Sprintf("%s: không có số tuần trong %q", FieldParsedWeek, week))
		}
	}

	if v := data[FieldSessionDate]; v != nil {
		t, ok := toTime(v)
		if ok && !t.IsZero() {
			d := t.Format(SessionDateLayout)
			rec.SessionDate = &d
		} else {
			issues = append(issues, fmt.Sprintf("%s: không parse được %v", FieldSessionDate, v))
		}
	}

	if v := data[FieldCreatedAt]; v != nil {
		if t, ok := toTime(v); ok {
			rec.CreatedAt = t
		} else {
			issues = append(issues, fmt.Sprintf("%s: không parse được %v", FieldCreatedAt, v))
		}
	}
	if v := data[FieldUpdatedAt]; v != nil {
		if t, ok := toTime(v); ok {
			rec.UpdatedAt = t
		}
	}
	if v := data[FieldFixedAt]; v != nil {
		if t, ok := toTime(v); ok {
			rec.FixedAt = &t
		}
	}

	switch v := data[FieldDataVersion].(type) {
	case nil:
	case int:
		rec.DataVersion = v
	case int32:
		rec.DataVersion = int(v)
	case int64:
		rec.DataVersion = int(v)
	case float64:
		rec.DataVersion = int(v)
	default:
		issues = append(issues, fmt.Sprintf("%s: kiểu không hỗ trợ %T", FieldDataVersion, v))
	}

	if v, ok := data[FieldNeedsReview].(bool); ok {
		rec.NeedsReview = v
	}

	return rec, issues, nil
}

func fieldErr(field string, err error) error {
	return fmt.Errorf("field %s: %w", field, err)
}

// strictString chỉ chấp nhận string hoặc nil
func strictString(v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	default:
		return "", fmt.Errorf("cần string, nhận %T", v)
	}
}

// scalarString chấp nhận cả số (driveId, week cũ lưu dạng number)
func scalarString(v interface{}) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("cần giá trị đơn, nhận %T", v)
	}
}

func stringList(v interface{}) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return x, nil
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("phần tử cần string, nhận %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cần mảng string, nhận %T", v)
	}
}

// toTime nhận time.Time, Unix ms (kiểu cũ), chuỗi ngày, hoặc map {seconds|_seconds}
func toTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), true
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return x.UTC(), true
	case int64:
		return time.UnixMilli(x).UTC(), true
	case int32:
		return time.UnixMilli(int64(x)).UTC(), true
	case int:
		return time.UnixMilli(int64(x)).UTC(), true
	case float64:
		return time.UnixMilli(int64(x)).UTC(), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		t, err := dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case map[string]interface{}:
		for _, k := range []string{"seconds", "_seconds"} {
			switch sec := x[k].(type) {
			case int64:
				return time.Unix(sec, 0).UTC(), true
			case float64:
				return time.Unix(int64(sec), 0).UTC(), true
			case int:
				return time.Unix(int64(sec), 0).UTC(), true
			}
		}
	}
	return time.Time{}, false
}
