package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataCodingFor(t *testing.T) {
	assert.Equal(t, CodingDefault, DataCodingFor("plain ascii 123"))
	assert.Equal(t, CodingUCS2, DataCodingFor("accentué"))
	assert.Equal(t, CodingUCS2, DataCodingFor("نص عربي"))
	assert.Equal(t, CodingDefault, DataCodingFor(""))

	// Repeated detection never flips the answer.
	body := "mixte é"
	assert.Equal(t, DataCodingFor(body), DataCodingFor(body))
}

func TestBuildCallbackURL(t *testing.T) {
	assert.Equal(t,
		"https://gw.example.com/dlr/callback?msgid=%I&status=%d&phone=%p&ts=%t&smsc=%A&err=%e",
		BuildCallbackURL("https://gw.example.com/"))
	assert.Equal(t, "", BuildCallbackURL(""))
}

func TestStateFromReceiptStat(t *testing.T) {
	cases := map[string]byte{
		"DELIVRD": 2,
		"delivrd": 2,
		"EXPIRED": 3,
		"DELETED": 4,
		"UNDELIV": 5,
		"ACCEPTD": 6,
		"REJECTD": 8,
		"ENROUTE": 1,
		"":        7,
		"GARBAGE": 7,
	}
	for stat, want := range cases {
		assert.Equal(t, want, StateFromReceiptStat(stat), "stat %q", stat)
	}
}

func TestAddressIndicators(t *testing.T) {
	assert.Equal(t, byte(TONAlphanumeric), addrTON("WAXAL"))
	assert.Equal(t, byte(NPIUnknown), addrNPI("WAXAL"))
	assert.Equal(t, byte(TONInternational), addrTON("221770000000"))
	assert.Equal(t, byte(NPIISDN), addrNPI("221770000000"))
}

func TestSubmitErrorFormat(t *testing.T) {
	err := NewSubmitError("CARRIER_TIMEOUT", "no response for seq %d", 42)
	assert.EqualError(t, err, "CARRIER_TIMEOUT: no response for seq 42")
}
