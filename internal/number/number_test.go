package number

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"123456789", "0123456789"},
		{"0123456789", "0123456789"},
		{"abc123", "123"},
		{"", ""},
		{"   ", ""},
		{"'082 555 1234'", "0825551234"},
		{"82-555-1234", "0825551234"},
		{"+27 82 555 1234", "27825551234"},
		{"012345678", "012345678"}, // 9 位但已以 0 开头：不补
		{"n/a", ""},
		{"８２５５５１２３４", ""}, // 全角数字不算 ASCII 数字
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Fatalf("Normalize(%q)=%q，期望 %q", c.in, got, c.want)
		}
	}
}

func FuzzNormalize_Idempotent(f *testing.F) {
	for _, s := range []string{"", "123456789", "0123456789", "abc123", "'082 555 1234'", "12345678", "1234567890"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, s string) {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("不幂等：%q -> %q -> %q", s, once, twice)
		}
		for i := 0; i < len(once); i++ {
			if once[i] < '0' || once[i] > '9' {
				t.Fatalf("输出含非数字：%q -> %q", s, once)
			}
		}
	})
}
