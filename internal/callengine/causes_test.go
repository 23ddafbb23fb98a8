package callengine

import "testing"

func TestCauseDescription(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{16, "normal clearing"},
		{17, "busy"},
		{19, "no answer"},
		{999, "unknown failure (code 999)"},
	}
	for _, c := range cases {
		if got := causeDescription(c.code); got != c.want {
			t.Errorf("causeDescription(%d) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestTerminatesTrunkLoop(t *testing.T) {
	for _, code := range []int{16, 17} {
		if !terminatesTrunkLoop(code) {
			t.Errorf("terminatesTrunkLoop(%d) = false, want true", code)
		}
	}
	for _, code := range []int{1, 18, 19, 28, 31, 34} {
		if terminatesTrunkLoop(code) {
			t.Errorf("terminatesTrunkLoop(%d) = true, want false", code)
		}
	}
}
