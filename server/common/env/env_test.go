package env

import (
	"reflect"
	"testing"
	"time"
)

func TestString(t *testing.T) {
	if got := String("ENV_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("missing key: %q", got)
	}
	t.Setenv("ENV_TEST_STR", "value")
	if got := String("ENV_TEST_STR", "fallback"); got != "value" {
		t.Errorf("set key: %q", got)
	}
}

func TestInt(t *testing.T) {
	if got := Int("ENV_TEST_MISSING", 7); got != 7 {
		t.Errorf("missing key: %d", got)
	}
	t.Setenv("ENV_TEST_INT", "42")
	if got := Int("ENV_TEST_INT", 7); got != 42 {
		t.Errorf("set key: %d", got)
	}
	t.Setenv("ENV_TEST_INT", "zero")
	if got := Int("ENV_TEST_INT", 7); got != 7 {
		t.Errorf("unparsable value: %d", got)
	}
	t.Setenv("ENV_TEST_INT", "-3")
	if got := Int("ENV_TEST_INT", 7); got != 7 {
		t.Errorf("non-positive value: %d", got)
	}
}

func TestBool(t *testing.T) {
	if got := Bool("ENV_TEST_MISSING", true); !got {
		t.Error("missing key lost fallback")
	}
	t.Setenv("ENV_TEST_BOOL", "false")
	if got := Bool("ENV_TEST_BOOL", true); got {
		t.Error("explicit false ignored")
	}
	t.Setenv("ENV_TEST_BOOL", "yes")
	if got := Bool("ENV_TEST_BOOL", true); !got {
		t.Error("unparsable value lost fallback")
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("ENV_TEST_MISSING", time.Minute); got != time.Minute {
		t.Errorf("missing key: %v", got)
	}
	t.Setenv("ENV_TEST_DUR", "90s")
	if got := Duration("ENV_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("set key: %v", got)
	}
	t.Setenv("ENV_TEST_DUR", "-5s")
	if got := Duration("ENV_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("non-positive value: %v", got)
	}
	t.Setenv("ENV_TEST_DUR", "soon")
	if got := Duration("ENV_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("unparsable value: %v", got)
	}
}

func TestCSV(t *testing.T) {
	fallback := []string{"a", "b"}
	if got := CSV("ENV_TEST_MISSING", fallback); !reflect.DeepEqual(got, fallback) {
		t.Errorf("missing key: %v", got)
	}
	t.Setenv("ENV_TEST_CSV", " x, y ,x,, ")
	if got := CSV("ENV_TEST_CSV", fallback); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("trim and dedupe: %v", got)
	}
	t.Setenv("ENV_TEST_CSV", " , ,")
	if got := CSV("ENV_TEST_CSV", fallback); !reflect.DeepEqual(got, fallback) {
		t.Errorf("blank value lost fallback: %v", got)
	}
}
