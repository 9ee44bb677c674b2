package elf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arc-language/binlink/internal/bytespan"
)

func TestIdentRoundTrip(t *testing.T) {
	cases := []Ident{
		{MagicOK: true, Class: Class64, DataFormat: LSB, Version: 1, OSABI: OSABISystemV},
		{MagicOK: true, Class: Class32, DataFormat: MSB, Version: 1, OSABI: OSABILinux, ABIVersion: 3},
	}

	for _, want := range cases {
		buf := make([]byte, identSize)
		encodeIdent(buf, want)
		got := decodeIdent(bytespan.New(buf))
		require.Equal(t, want, got)
		require.True(t, got.IsValid())
	}
}

func TestIdentIsValidRejectsBadMagic(t *testing.T) {
	buf := make([]byte, identSize)
	encodeIdent(buf, Ident{MagicOK: true, Class: Class64, DataFormat: LSB, Version: 1, OSABI: OSABISystemV})
	buf[idxMag0] = 0

	got := decodeIdent(bytespan.New(buf))
	require.False(t, got.IsValid())
}

func TestIdentIsValidAcceptsArchSpecificOSABI(t *testing.T) {
	id := Ident{MagicOK: true, Class: Class64, DataFormat: LSB, Version: 1, OSABI: OSABI(200)}
	require.True(t, id.IsValid())
}

func TestExtractIdentRejectsShortFile(t *testing.T) {
	_, err := ExtractIdent(bytespan.New(make([]byte, 8)))
	require.Error(t, err)
}
