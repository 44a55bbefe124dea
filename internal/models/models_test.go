package models

import (
	"errors"
	"strings"
	"testing"
)

func TestBugReportValidate(t *testing.T) {
	cases := []struct {
		name   string
		report BugReport
		want   error
	}{
		{
			name:   "valid minimal",
			report: BugReport{Title: "Crash on save"},
			want:   nil,
		},
		{
			name: "valid with details",
			report: BugReport{
				Title:        "Crash on save",
				Description:  "The editor crashed",
				ErrorDetails: []ErrorDetail{{Message: "TypeError"}},
			},
			want: nil,
		},
		{
			name:   "empty title",
			report: BugReport{},
			want:   ErrEmptyTitle,
		},
		{
			name:   "title too long",
			report: BugReport{Title: strings.Repeat("a", MaxTitleLength+1)},
			want:   ErrTitleTooLong,
		},
		{
			name:   "title at limit",
			report: BugReport{Title: strings.Repeat("a", MaxTitleLength)},
			want:   nil,
		},
		{
			name:   "description too long",
			report: BugReport{Title: "t", Description: strings.Repeat("a", MaxDescriptionLength+1)},
			want:   ErrDescriptionTooLong,
		},
		{
			name:   "too many errors",
			report: BugReport{Title: "t", ErrorDetails: make([]ErrorDetail, MaxErrorDetails+1)},
			want:   ErrTooManyErrors,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.report.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	if resp := Success(map[string]string{"id": "1"}); resp.Status != string(APIStatusOK) || resp.Result == nil {
		t.Errorf("unexpected success response %+v", resp)
	}
	if resp := SuccessWithMessage("done", nil); resp.Status != string(APIStatusOK) || resp.Message != "done" {
		t.Errorf("unexpected success response %+v", resp)
	}
	if resp := Error("boom"); resp.Status != string(APIStatusError) || resp.Message != "boom" {
		t.Errorf("unexpected error response %+v", resp)
	}
}
