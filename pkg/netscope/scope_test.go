package netscope

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vigil-sh/vigil/pkg/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		addr string
		want Scope
	}{
		{"127.0.0.1", Local},
		{"::1", Local},
		{"10.1.2.3", LAN},
		{"172.16.9.1", LAN},
		{"192.168.1.10", LAN},
		{"100.64.0.1", LAN},
		{"169.254.10.10", LAN},
		{"fe80::1", LAN},
		{"fd00::42", LAN},
		{"203.0.113.5", Global},
		{"8.8.8.8", Global},
		{"2001:4860:4860::8888", Global},
		{"not-an-ip", LAN},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.addr))
		})
	}
}

func TestClassifyBind(t *testing.T) {
	assert.Equal(t, Local, ClassifyBind("127.0.0.1"))
	assert.Equal(t, Local, ClassifyBind("localhost"))
	assert.Equal(t, Global, ClassifyBind("0.0.0.0"))
	assert.Equal(t, Global, ClassifyBind("*"))
	assert.Equal(t, Global, ClassifyBind("::"))
	assert.Equal(t, LAN, ClassifyBind("192.168.1.5"))
	assert.Equal(t, Global, ClassifyBind("198.51.100.7"))
}

func TestAdjust(t *testing.T) {
	assert.Equal(t, domain.SeverityCritical, Adjust(domain.SeverityCritical, Global))
	assert.Equal(t, domain.SeverityWarning, Adjust(domain.SeverityCritical, LAN))
	assert.Equal(t, domain.SeverityInfo, Adjust(domain.SeverityWarning, LAN))
	assert.Equal(t, domain.SeverityInfo, Adjust(domain.SeverityCritical, Local))
}
