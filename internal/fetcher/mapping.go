package fetcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/integritystudio/tcad-scraper/internal/model"
)

type rawSearchResponse struct {
	TotalProperty struct {
		PropertyCount int `json:"propertyCount"`
	} `json:"totalProperty"`
	Results []rawResult `json:"results"`
}

type rawResult struct {
	PID              json.RawMessage `json:"pid"`
	DisplayName      string          `json:"displayName"`
	PropType         string          `json:"propType"`
	City             *string         `json:"city"`
	StreetPrimary    string          `json:"streetPrimary"`
	AssessedValue    json.RawMessage `json:"assessedValue"`
	AppraisedValue   json.RawMessage `json:"appraisedValue"`
	GeoID            *string         `json:"geoID"`
	LegalDescription *string         `json:"legalDescription"`
}

// isTruncated inspects the last non-whitespace byte of the raw response
// body. A body that does not end in '}' or ']' was cut off mid-payload.
func isTruncated(body []byte) bool {
	trimmed := bytes.TrimRight(body, " \t\r\n")
	if len(trimmed) == 0 {
		return true
	}
	last := trimmed[len(trimmed)-1]
	return last != '}' && last != ']'
}

// coerceString accepts a JSON string or number and returns its string
// form; a JSON null or absent value yields "".
func coerceString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("value %s is neither string nor number", raw)
}

// coerceFloatPtr accepts a JSON number, numeric string, or null and
// returns a pointer to the parsed value (nil for null/empty-string).
func coerceFloatPtr(raw json.RawMessage) (*float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not numeric", s)
		}
		return &parsed, nil
	}
	return nil, fmt.Errorf("value %s is neither number nor numeric string", raw)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// mapRecord converts one upstream result into a PropertyRecord. ok is
// false when property_id is empty (the record is dropped per spec).
func mapRecord(r rawResult, term string) (rec model.PropertyRecord, ok bool, err error) {
	propertyID, err := coerceString(r.PID)
	if err != nil {
		return model.PropertyRecord{}, false, ParseError{Err: fmt.Errorf("pid: %w", err)}
	}
	if propertyID == "" {
		return model.PropertyRecord{}, false, nil
	}

	assessed, err := coerceFloatPtr(r.AssessedValue)
	if err != nil {
		return model.PropertyRecord{}, false, ParseError{Err: fmt.Errorf("assessedValue: %w", err)}
	}
	if assessed != nil && *assessed < 0 {
		return model.PropertyRecord{}, false, ParseError{Err: fmt.Errorf("assessedValue %v is negative", *assessed)}
	}

	appraised, err := coerceFloatPtr(r.AppraisedValue)
	if err != nil {
		return model.PropertyRecord{}, false, ParseError{Err: fmt.Errorf("appraisedValue: %w", err)}
	}
	appraisedValue := 0.0
	if appraised != nil {
		if *appraised < 0 {
			return model.PropertyRecord{}, false, ParseError{Err: fmt.Errorf("appraisedValue %v is negative", *appraised)}
		}
		appraisedValue = *appraised
	}

	return model.PropertyRecord{
		PropertyID:     propertyID,
		OwnerName:      r.DisplayName,
		PropType:       r.PropType,
		City:           derefString(r.City),
		Address:        r.StreetPrimary,
		AssessedValue:  assessed,
		AppraisedValue: appraisedValue,
		GeoID:          derefString(r.GeoID),
		Description:    derefString(r.LegalDescription),
		SearchTerm:     term,
	}, true, nil
}
