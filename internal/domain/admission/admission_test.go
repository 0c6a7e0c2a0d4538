package admission

import (
	"errors"
	"strings"
	"testing"
)

const maxSize = 50 * 1024 * 1024

func TestCheckContentType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		ext     string
		wantErr bool
	}{
		{"application/pdf", "application/pdf", ".pdf", false},
		{"Application/PDF", "application/pdf", ".pdf", false},
		{"text/csv; charset=utf-8", "text/csv", ".csv", false},
		{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx", false},
		{"image/tiff", "image/tiff", ".tiff", false},
		{"application/zip", "", "", true},
		{"text/plain", "", "", true},
		{"", "", "", true},
		{";;;", "", "", true},
	}
	for _, tt := range tests {
		ct, ext, err := CheckContentType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CheckContentType(%q): ожидалась ошибка", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("CheckContentType(%q): неожиданная ошибка %v", tt.in, err)
			continue
		}
		if ct != tt.want || ext != tt.ext {
			t.Errorf("CheckContentType(%q) = %q, %q; ожидается %q, %q", tt.in, ct, ext, tt.want, tt.ext)
		}
	}
}

func TestUnsupportedTypeNamesType(t *testing.T) {
	_, _, err := CheckContentType("application/x-msdownload")
	if err == nil || !strings.Contains(err.Error(), "application/x-msdownload") {
		t.Errorf("ошибка должна называть тип, получено %v", err)
	}
}

func TestCheckSize(t *testing.T) {
	p := NewPolicy(maxSize)

	tests := []struct {
		size    int64
		wantErr bool
	}{
		{1, false},
		{maxSize, false},
		{maxSize + 1, true},
		{60000000, true},
		{0, true},
		{-5, true},
	}
	for _, tt := range tests {
		err := p.CheckSize(tt.size)
		if (err != nil) != tt.wantErr {
			t.Errorf("CheckSize(%d) ошибка = %v, ожидалась ошибка: %v", tt.size, err, tt.wantErr)
		}
	}

	err := p.CheckSize(60000000)
	if !strings.Contains(err.Error(), "52428800") {
		t.Errorf("сообщение должно содержать предел, получено %q", err)
	}
}

func TestCheckFilename(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"claim.pdf", "claim.pdf", false},
		{"  счёт №5.pdf ", "счёт №5.pdf", false},
		{"../../etc/passwd", "passwd", false},
		{`C:\scans\claim.png`, "claim.png", false},
		{"", "", true},
		{"dir/", "", true},
		{"bad\x00name.pdf", "", true},
		{strings.Repeat("a", 256), "", true},
	}
	for _, tt := range tests {
		got, err := CheckFilename(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CheckFilename(%q): ожидалась ошибка", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("CheckFilename(%q) = %q, %v; ожидается %q", tt.in, got, err, tt.want)
		}
	}
}

func TestCheckFingerprint(t *testing.T) {
	valid := strings.Repeat("ab", 32)
	if fp, err := CheckFingerprint(strings.ToUpper(valid)); err != nil || fp != valid {
		t.Errorf("верхний регистр должен нормализоваться: %q, %v", fp, err)
	}
	if fp, err := CheckFingerprint(""); err != nil || fp != "" {
		t.Errorf("пустой отпечаток допустим: %q, %v", fp, err)
	}
	if _, err := CheckFingerprint("abc"); err == nil {
		t.Error("короткий отпечаток: ожидалась ошибка")
	}
	if _, err := CheckFingerprint(strings.Repeat("zz", 32)); err == nil {
		t.Error("не hex: ожидалась ошибка")
	}
}

func TestPolicyCheck(t *testing.T) {
	p := NewPolicy(maxSize)

	got, err := p.Check(Request{Filename: "a.pdf", ContentType: "application/pdf", Size: 1024})
	if err != nil {
		t.Fatalf("Check() неожиданная ошибка: %v", err)
	}
	if got.Extension != ".pdf" || got.Size != 1024 {
		t.Errorf("Check() = %+v", got)
	}

	_, err = p.Check(Request{Filename: "a.pdf", ContentType: "application/pdf", Size: 60000000})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("ожидалась *ValidationError, получено %v", err)
	}
	if ve.Field != "fileSize" {
		t.Errorf("Field = %q, ожидается fileSize", ve.Field)
	}
}
