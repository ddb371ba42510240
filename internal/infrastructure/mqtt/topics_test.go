package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			name: "instrument command",
			got:  topics.InstrumentCommand("polarimeter"),
			want: "musolsong/command/polarimeter",
		},
		{
			name: "instrument ack",
			got:  topics.InstrumentAck("spectrograph"),
			want: "musolsong/ack/spectrograph",
		},
		{
			name: "instrument status",
			got:  topics.InstrumentStatus("polarimeter"),
			want: "musolsong/status/polarimeter",
		},
		{
			name: "run event",
			got:  topics.RunEvent("run-123"),
			want: "musolsong/run/run-123/event",
		},
		{
			name: "run report",
			got:  topics.RunReport("run-123"),
			want: "musolsong/run/run-123/report",
		},
		{
			name: "system status",
			got:  topics.SystemStatus(),
			want: "musolsong/system/status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
