package validation

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateModuleName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "mario", false},
		{"valid with dash", "ha-mqtt", false},
		{"valid with underscore", "system_info", false},
		{"valid with digits", "module2", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "mario/etc", true},
		{"dot dot", "..mario", true},
		{"semicolon", "mario;reboot", true},
		{"pipe", "mario|cat", true},
		{"ampersand", "mario&", true},
		{"dollar", "mario$HOME", true},
		{"backtick", "mario`id`", true},
		{"space", "mario service", true},
		{"newline", "mario\nstop", true},
		{"quote", "mario'", true},
		{"null byte", "mario\x00", true},
		{"unicode", "märio", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModuleName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateModuleName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !IsValidationError(err) {
				t.Errorf("ValidateModuleName(%q) returned untyped error %T", tt.input, err)
			}
		})
	}
}

func TestValidateModuleName_RejectsEmbeddedMetachars(t *testing.T) {
	// Surrounding valid characters must not rescue a dangerous one.
	for _, char := range []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "/", ".."} {
		input := "valid" + char + "valid"
		if err := ValidateModuleName(input); err == nil {
			t.Errorf("ValidateModuleName(%q) accepted dangerous character %q", input, char)
		}
	}
}

func TestValidateServiceUnit(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "mario.service", false},
		{"valid dashed", "ha-mqtt.service", false},
		{"missing suffix", "mario", true},
		{"empty", "", true},
		{"bare suffix", ".service", true},
		{"traversal in base", "../mario.service", true},
		{"metachar in base", "mario;.service", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServiceUnit(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateServiceUnit(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func identityResolve(p string) (string, error) {
	return p, nil
}

func TestValidatePath(t *testing.T) {
	roots := []string{"/etc/luigi", "/var/log/luigi"}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"under config root", "/etc/luigi/modules.yaml", false},
		{"under log root", "/var/log/luigi/audit.log", false},
		{"root itself", "/etc/luigi", false},
		{"outside roots", "/etc/shadow", true},
		{"prefix but not descendant", "/etc/luigid/file", true},
		{"traversal escape", "/etc/luigi/../shadow", true},
		{"relative", "modules.yaml", true},
		{"empty", "", true},
		{"null byte", "/etc/luigi/\x00evil", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidatePath(tt.input, roots, identityResolve)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePath_SymlinkEscape(t *testing.T) {
	// A symlink inside an allowed root pointing outside of it fails closed.
	resolve := func(p string) (string, error) {
		if p == "/etc/luigi/link" {
			return "/etc/shadow", nil
		}
		return p, nil
	}

	if _, err := ValidatePath("/etc/luigi/link", []string{"/etc/luigi"}, resolve); err == nil {
		t.Error("symlink escaping the allowed root was accepted")
	}
}

func TestValidatePath_ResolveFailure(t *testing.T) {
	resolve := func(p string) (string, error) {
		return "", errors.New("no such file")
	}

	if _, err := ValidatePath("/etc/luigi/missing", []string{"/etc/luigi"}, resolve); err == nil {
		t.Error("unresolvable path was accepted")
	}
}

func TestValidatePath_RealResolver(t *testing.T) {
	dir := t.TempDir()

	resolved, err := ValidatePath(filepath.Join(dir, "sub"), []string{dir}, func(p string) (string, error) { return p, nil })
	if err != nil {
		t.Fatalf("ValidatePath returned error for path under temp root: %v", err)
	}
	if !strings.HasPrefix(resolved, dir) {
		t.Errorf("resolved path %q not under root %q", resolved, dir)
	}
}

func TestModuleCommand(t *testing.T) {
	tests := []struct {
		name    string
		verb    string
		unit    string
		want    []string
		wantErr bool
	}{
		{"start", "start", "mario.service", []string{"systemctl", "start", "mario.service"}, false},
		{"stop", "stop", "mario.service", []string{"systemctl", "stop", "mario.service"}, false},
		{"restart", "restart", "climate.service", []string{"systemctl", "restart", "climate.service"}, false},
		{"status", "status", "mario.service", []string{"systemctl", "is-active", "mario.service"}, false},
		{"unknown verb", "enable", "mario.service", nil, true},
		{"empty verb", "", "mario.service", nil, true},
		{"injection in unit", "start", "mario.service; rm -rf /", nil, true},
		{"missing suffix", "start", "mario", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ModuleCommand(tt.verb, tt.unit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ModuleCommand(%q, %q) error = %v, wantErr %v", tt.verb, tt.unit, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ModuleCommand(%q, %q) = %v, want %v", tt.verb, tt.unit, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("argv[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestValidateAllowlist(t *testing.T) {
	allowed := []string{"start", "stop", "restart"}

	if err := ValidateAllowlist("start", allowed); err != nil {
		t.Errorf("expected start to be allowed: %v", err)
	}
	if err := ValidateAllowlist("reboot", allowed); err == nil {
		t.Error("expected reboot to be rejected")
	}
	if err := ValidateAllowlist("", allowed); err == nil {
		t.Error("expected empty value to be rejected")
	}
}

func TestSanitizeString(t *testing.T) {
	got := SanitizeString("mario; rm -rf / `id` $(x)")
	for _, char := range []string{";", "`", "$", "(", ")", "/"} {
		if strings.Contains(got, char) {
			t.Errorf("SanitizeString left dangerous character %q in %q", char, got)
		}
	}
}
