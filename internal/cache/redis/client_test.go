package redis

import "testing"

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ClientConfig
		wantAddr string
		wantDB   int
		wantTLS  bool
		wantErr  bool
	}{
		{name: "discrete", cfg: ClientConfig{Addr: "cache:6379", DB: 2}, wantAddr: "cache:6379", wantDB: 2},
		{name: "discrete tls", cfg: ClientConfig{Addr: "cache:6380", TLSEnabled: true}, wantAddr: "cache:6380", wantTLS: true},
		{name: "url wins", cfg: ClientConfig{URL: "rediss://:pw@managed.example:6379/3", Addr: "ignored:1"}, wantAddr: "managed.example:6379", wantDB: 3, wantTLS: true},
		{name: "bad url", cfg: ClientConfig{URL: "http://nope"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.cfg.options()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("options: %v", err)
			}
			if opts.Addr != tt.wantAddr || opts.DB != tt.wantDB {
				t.Errorf("addr/db = %s/%d, want %s/%d", opts.Addr, opts.DB, tt.wantAddr, tt.wantDB)
			}
			if (opts.TLSConfig != nil) != tt.wantTLS {
				t.Errorf("tls = %v, want %v", opts.TLSConfig != nil, tt.wantTLS)
			}
		})
	}
}
