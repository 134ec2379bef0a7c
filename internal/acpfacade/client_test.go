package acpfacade

import "testing"

func TestResolvePath(t *testing.T) {
	c := newClient(withWorkspaceRoot("/workspace/proj"))

	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "relative", in: "src/main.go", want: "/workspace/proj/src/main.go"},
		{name: "dot", in: ".", want: "/workspace/proj"},
		{name: "absolute inside root", in: "/workspace/proj/sub/file.txt", want: "/workspace/proj/sub/file.txt"},
		{name: "traversal outside root", in: "../../etc/passwd", wantErr: true},
		{name: "absolute outside root", in: "/etc/passwd", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.resolvePath(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("resolvePath(%q) = %q, want error", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolvePath(%q) unexpected error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("resolvePath(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
