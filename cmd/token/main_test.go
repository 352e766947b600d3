package main

import (
	"Go_Drop/utils"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMintToken(t *testing.T) {
	var out bytes.Buffer
	cmdToken.SetOut(&out)
	cmdToken.SetArgs([]string{"alice", "--secret", "s3cret", "--ttl", "1h"})
	require.NoError(t, cmdToken.Execute())

	claims, err := utils.VerifyToken("s3cret", strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "alice", claims.OwnerID)
}
