package integration

import (
	"io/ioutil"
	"log"
	"testing"

	"github.com/forgebuild/forge/internal/fingerprint"
)

func discardLogger() *log.Logger {
	return log.New(ioutil.Discard, "", 0)
}

func fingerprintHash(t *testing.T, s string) []byte {
	t.Helper()
	sum := fingerprint.HashBytes([]byte(s))
	return sum[:]
}
