package core_test

import (
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/orrn/printrelease/internal/core"
)

func TestTokenGenerator(t *testing.T) {
	gen := core.NewTokenGenerator()
	a, err := gen.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := gen.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a == b {
		t.Fatal("two tokens collided")
	}
	raw, err := hex.DecodeString(a)
	if err != nil || len(raw) != core.TokenBytes {
		t.Fatalf("token %q is not %d hex-encoded bytes", a, core.TokenBytes)
	}
}

func TestTokenMatches(t *testing.T) {
	tests := []struct {
		stored, presented string
		want              bool
	}{
		{"abcdef0123456789", "abcdef0123456789", true},
		{"abcdef0123456789", "abcdef012345678", false},
		{"abcdef0123456789", "ABCDEF0123456789", false},
		{"abcdef0123456789", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := core.TokenMatches(tt.stored, tt.presented); got != tt.want {
			t.Errorf("TokenMatches(%q, %q) = %v, want %v", tt.stored, tt.presented, got, tt.want)
		}
	}
}

func TestBuildReleaseLink(t *testing.T) {
	got := core.BuildReleaseLink("https://print.example.com/", "job-1", "tok")
	if got != "https://print.example.com/release/job-1?token=tok" {
		t.Fatalf("unexpected link %q", got)
	}
}

func TestPriceJob(t *testing.T) {
	tests := []struct {
		pages, copies int
		color, duplex bool
		want          float64
	}{
		{1, 1, false, false, 0.10},
		{10, 2, false, false, 2.00},
		{10, 2, true, false, 4.00},
		{10, 2, false, true, 1.60},
		{10, 2, true, true, 3.20},
		{3, 1, false, true, 0.24},
		{7, 3, true, true, 3.36},
	}
	for _, tt := range tests {
		name := fmt.Sprintf("%dx%d color=%v duplex=%v", tt.pages, tt.copies, tt.color, tt.duplex)
		t.Run(name, func(t *testing.T) {
			if got := core.PriceJob(tt.pages, tt.copies, tt.color, tt.duplex); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNegotiateContentType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	tests := []struct {
		name     string
		declared string
		filename string
		content  []byte
		want     string
		wantErr  bool
	}{
		{"declared wins", "application/pdf", "scan.bin", []byte("x"), "application/pdf", false},
		{"declared with params", "text/plain; charset=utf-8", "", []byte("hi"), "text/plain", false},
		{"octet stream falls back to extension", "application/octet-stream", "Notes.DOCX", []byte("PK"), "application/vnd.openxmlformats-officedocument.wordprocessingml.document", false},
		{"extension", "", "photo.jpeg", []byte("x"), "image/jpeg", false},
		{"sniffed", "", "upload", png, "image/png", false},
		{"sniffed pdf", "", "", pdfContent, "application/pdf", false},
		{"declared unsupported", "application/zip", "a.pdf", []byte("x"), "", true},
		{"unknown everything", "", "blob", []byte{0x00, 0x01, 0x02}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := core.NegotiateContentType(tt.declared, tt.filename, tt.content)
			if tt.wantErr {
				var verr *core.ValidationError
				if !errors.As(err, &verr) || verr.Field != "mimeType" {
					t.Fatalf("expected mimeType validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]core.JobStatus]bool{
		{core.JobStatusPending, core.JobStatusReleased}:   true,
		{core.JobStatusPending, core.JobStatusCancelled}:  true,
		{core.JobStatusPending, core.JobStatusDeleted}:    true,
		{core.JobStatusReleased, core.JobStatusCompleted}: true,
		{core.JobStatusReleased, core.JobStatusDeleted}:   true,
		{core.JobStatusCompleted, core.JobStatusDeleted}:  true,
		{core.JobStatusCancelled, core.JobStatusDeleted}:  true,
	}
	all := []core.JobStatus{
		core.JobStatusPending, core.JobStatusReleased, core.JobStatusCompleted,
		core.JobStatusCancelled, core.JobStatusDeleted,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]core.JobStatus{from, to}]
			if got := core.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
		if core.CanTransition(from, core.JobStatusPending) {
			t.Errorf("%s must never lead back to pending", from)
		}
	}
}

func TestIsPurgeable(t *testing.T) {
	tests := []struct {
		status core.JobStatus
		want   bool
	}{
		{core.JobStatusPending, false},
		{core.JobStatusReleased, false},
		{core.JobStatusCompleted, true},
		{core.JobStatusCancelled, true},
		{core.JobStatusDeleted, false},
	}
	for _, tt := range tests {
		if got := core.IsPurgeable(tt.status); got != tt.want {
			t.Errorf("IsPurgeable(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{core.ErrNotFound, core.KindNotFound},
		{fmt.Errorf("lookup: %w", core.ErrExpired), core.KindExpired},
		{core.ErrInvalidToken, core.KindInvalidToken},
		{core.ErrAlreadyViewed, core.KindAlreadyViewed},
		{fmt.Errorf("cannot delete pending job: %w", core.ErrConflict), core.KindConflict},
		{core.ErrForbidden, core.KindForbidden},
		{&core.ValidationError{Field: "pages", Reason: "must be positive"}, core.KindValidation},
		{errors.New("disk I/O error"), core.KindInternal},
	}
	for _, tt := range tests {
		if got := core.Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
