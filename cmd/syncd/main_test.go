package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "no flags", args: []string{"sync", "upload"}, want: []string{"sync", "upload"}},
		{name: "flag with separate value", args: []string{"-d", "x.db", "sync"}, want: []string{"sync"}},
		{name: "flag with inline value", args: []string{"-config=f.json", "sync"}, want: []string{"sync"}},
		{name: "flags around positionals", args: []string{"-a", "alice", "export", "backup.json"}, want: []string{"export", "backup.json"}},
		{name: "empty", args: []string{}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commandArgs(tt.args))
		})
	}
}
