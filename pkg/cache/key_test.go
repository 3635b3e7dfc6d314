package cache

import "testing"

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "first page",
			key:  Key{Prefix: "names", URL: "https://muslimnames.com/boy-names"},
			want: "names:page:muslimnames.com/boy-names",
		},
		{
			name: "numbered page",
			key:  Key{Prefix: "names", URL: "https://muslimnames.com/girl-names?page=7"},
			want: "names:page:muslimnames.com/girl-names:page=7",
		},
		{
			name: "query params sorted and host lowered",
			key:  Key{Prefix: "x", URL: "https://MuslimNames.com/boy-names/?sort=az&page=2"},
			want: "x:page:muslimnames.com/boy-names:page=2:sort=az",
		},
		{
			name: "default prefix",
			key:  Key{URL: "https://muslimnames.com/boy-names"},
			want: "names:page:muslimnames.com/boy-names",
		},
		{
			name: "not a URL",
			key:  Key{Prefix: "names", URL: "boy-names"},
			want: "names:page:boy-names",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
