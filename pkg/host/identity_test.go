// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package host

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHardwareAddrValue(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want uint64
	}{
		{
			name: "all zeros",
			addr: "00:00:00:00:00:00",
			want: 0,
		},
		{
			name: "low byte only",
			addr: "00:00:00:00:00:01",
			want: 1,
		},
		{
			name: "full address",
			addr: "aa:bb:cc:dd:ee:ff",
			want: 0xaabbccddeeff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := net.ParseMAC(tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, hardwareAddrValue(addr))
		})
	}
}

func TestIdentityIsStable(t *testing.T) {
	first, err := Identity()
	if err != nil {
		t.Skipf("no machine identity available in this environment: %v", err)
	}
	assert.NotEmpty(t, first)

	second, err := Identity()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
