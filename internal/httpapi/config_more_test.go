package httpapi

import "testing"

func TestSetMaxBodyBytes_DefaultWhenNonPositive(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 11<<20 {
		t.Fatalf("expected default 11MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(0)
	if maxBodyBytes != 11<<20 {
		t.Fatalf("expected default 11MiB on zero, got %d", maxBodyBytes)
	}
}

func TestSetMaxBodyBytes_PositiveSetsValue(t *testing.T) {
	SetMaxBodyBytes(1234)
	defer SetMaxBodyBytes(0)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
}

func TestSetRequestTimeoutSeconds_NormalizesNegativeToZero(t *testing.T) {
	SetRequestTimeoutSeconds(-5)
	if requestTimeout != 0 {
		t.Fatalf("expected 0, got %d", requestTimeout)
	}
	SetRequestTimeoutSeconds(3)
	defer SetRequestTimeoutSeconds(0)
	if requestTimeout != 3 {
		t.Fatalf("expected 3, got %d", requestTimeout)
	}
}

func TestSetVersion_EmptyFallsBackToDev(t *testing.T) {
	SetVersion("")
	if serviceVersion != "dev" {
		t.Fatalf("expected dev, got %q", serviceVersion)
	}
	SetVersion("1.2.3")
	defer SetVersion("")
	if serviceVersion != "1.2.3" {
		t.Fatalf("expected 1.2.3, got %q", serviceVersion)
	}
}

func TestCORSOptions_Defaults(t *testing.T) {
	SetCORSOptions(true, nil, nil, nil)
	defer SetCORSOptions(false, nil, nil, nil)
	o := corsOptions()
	if len(o.AllowedOrigins) != 1 || o.AllowedOrigins[0] != "*" {
		t.Fatalf("origins=%v", o.AllowedOrigins)
	}
	if len(o.AllowedMethods) != 3 {
		t.Fatalf("methods=%v", o.AllowedMethods)
	}
}
