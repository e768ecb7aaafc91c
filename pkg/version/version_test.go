package version

import "testing"

func TestString(t *testing.T) {
	stamp()
	oldTag, oldCommit, oldDate := tag, commit, date
	t.Cleanup(func() { tag, commit, date = oldTag, oldCommit, oldDate })

	tests := []struct {
		tag, commit, date string
		want, wantFull    string
	}{
		{want: "dev", wantFull: "dev"},
		{commit: "abc1234", date: "2026-01-01", want: "abc1234", wantFull: "abc1234 built 2026-01-01"},
		{tag: "v1.2.0", commit: "abc1234", date: "2026-01-01", want: "v1.2.0", wantFull: "v1.2.0 (abc1234) built 2026-01-01"},
	}
	for _, tt := range tests {
		tag, commit, date = tt.tag, tt.commit, tt.date
		if got := String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := Full(); got != tt.wantFull {
			t.Errorf("Full() = %q, want %q", got, tt.wantFull)
		}
	}
}
