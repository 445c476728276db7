package query

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Record field names used by the bridges.
const (
	FieldCategory  = "category_name"
	FieldChild     = "child_name"
	FieldTimestamp = "_date"
	FieldValue     = "value"
)

// DecodeRow builds a RawRow from a decoded bridge record. Every field is
// required; a record missing one fails with ErrMissingField.
func DecodeRow(rec map[string]any) (RawRow, error) {
	var row RawRow
	var err error

	if row.Category, err = stringField(rec, FieldCategory); err != nil {
		return RawRow{}, err
	}
	if row.Child, err = stringField(rec, FieldChild); err != nil {
		return RawRow{}, err
	}
	if row.Timestamp, err = stringField(rec, FieldTimestamp); err != nil {
		return RawRow{}, err
	}

	v, ok := rec[FieldValue]
	if !ok || v == nil {
		return RawRow{}, fmt.Errorf("%w: %s", ErrMissingField, FieldValue)
	}
	switch vv := v.(type) {
	case float64:
		row.Value = vv
	case int:
		row.Value = float64(vv)
	case int64:
		row.Value = float64(vv)
	case json.Number:
		f, err := vv.Float64()
		if err != nil {
			return RawRow{}, fmt.Errorf("parse %s: %w", FieldValue, err)
		}
		row.Value = f
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		if err != nil {
			return RawRow{}, fmt.Errorf("parse %s: %w", FieldValue, err)
		}
		row.Value = f
	default:
		return RawRow{}, fmt.Errorf("unexpected %s type %T", FieldValue, v)
	}

	return row, nil
}

// DecodeRows decodes every record, collecting the failures instead of
// stopping at the first one.
func DecodeRows(recs []map[string]any) Result {
	res := Result{Rows: make([]RawRow, 0, len(recs))}
	for i, rec := range recs {
		row, err := DecodeRow(rec)
		if err != nil {
			res.Rejected = append(res.Rejected, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		res.Rows = append(res.Rows, row)
	}
	return res
}

func stringField(rec map[string]any, key string) (string, error) {
	v, ok := rec[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s: unexpected type %T", key, v)
	}
	return s, nil
}
