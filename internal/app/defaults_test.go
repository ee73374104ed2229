package app

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGetDefaults(t *testing.T) {
	const home = "/home/tester"

	tests := []struct {
		name string
		env  map[string]string
		want Defaults
	}{
		{
			name: "pv variables win",
			env: map[string]string{
				"PV_CONFIG_PATH":  "/etc/pv/pv.toml",
				"PV_HOME":         "/srv/pv",
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			want: Defaults{ConfigPath: "/etc/pv/pv.toml", BaseDir: "/srv/pv", LogDir: "/srv/pv/log"},
		},
		{
			name: "xdg variables",
			env: map[string]string{
				"XDG_CONFIG_HOME": "/xdg/config",
				"XDG_DATA_HOME":   "/xdg/data",
			},
			want: Defaults{ConfigPath: "/xdg/config/pv.toml", BaseDir: "/xdg/data/pv", LogDir: "/xdg/data/pv/log"},
		},
		{
			name: "only PV_HOME",
			env:  map[string]string{"PV_HOME": "/srv/pv"},
			want: Defaults{ConfigPath: home + "/.config/pv.toml", BaseDir: "/srv/pv", LogDir: "/srv/pv/log"},
		},
		{
			name: "home directory fallbacks",
			want: Defaults{
				ConfigPath: home + "/.config/pv.toml",
				BaseDir:    home + "/.local/share/pv",
				LogDir:     home + "/.local/share/pv/log",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", home)
			for _, key := range []string{"PV_CONFIG_PATH", "PV_HOME", "XDG_CONFIG_HOME", "XDG_DATA_HOME"} {
				t.Setenv(key, tt.env[key])
			}

			got, err := GetDefaults()
			if err != nil {
				t.Fatalf("GetDefaults() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, *got); diff != "" {
				t.Errorf("GetDefaults() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
