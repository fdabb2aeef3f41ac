package transport

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSignedTLSCoversLoopback(t *testing.T) {
	conf, err := SelfSignedTLS()
	require.NoError(t, err)
	require.Len(t, conf.Certificates, 1)

	leaf, err := x509.ParseCertificate(conf.Certificates[0].Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "localhost")
	assert.NoError(t, leaf.VerifyHostname("127.0.0.1"))
	assert.True(t, leaf.NotAfter.After(leaf.NotBefore))
}
