package elf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringTableGetAndAppend(t *testing.T) {
	st := NewStringTable([]byte{0, 'l', 'i', 'b', 'c', '.', 's', 'o', 0})

	s, err := st.Get(1)
	require.NoError(t, err)
	require.Equal(t, "libc.so", s)

	off := st.Append("libm.so")
	require.Equal(t, 9, off)
	s, err = st.Get(off)
	require.NoError(t, err)
	require.Equal(t, "libm.so", s)
}

func TestStringTableGetErrors(t *testing.T) {
	st := NewStringTable([]byte{0, 'a', 'b'})

	_, err := st.Get(-1)
	require.Error(t, err)

	_, err = st.Get(100)
	require.Error(t, err)

	_, err = st.Get(1)
	require.Error(t, err, "no terminating NUL")
}

func TestStringTableOverwriteInPlaceShorterPadsWithNul(t *testing.T) {
	st := NewStringTable([]byte{0})
	off := st.Append("/opt/libs")

	st.OverwriteInPlace(off, "/lib")

	s, err := st.Get(off)
	require.NoError(t, err)
	require.Equal(t, "/lib", s)
	require.Equal(t, byte(0), st.Bytes()[off+len("/lib")])
}

func TestStringTableIsTailAndTruncate(t *testing.T) {
	st := NewStringTable([]byte{0})
	off := st.Append("/opt/libs")
	require.True(t, st.IsTail(off))

	st.TruncateTail(off)
	require.Equal(t, 1, st.Len())
}
