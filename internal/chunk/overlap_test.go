package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyContent(t *testing.T) {
	tests := []struct {
		name string
		text string
		want ContentType
	}{
		{
			"code",
			"func main() {\n\treturn nil\n}\nfunc helper() {\n\tvar x = 1\n\treturn x\n}",
			ContentCode,
		},
		{
			"structured table",
			"name | role | site\nalice | admin | hq\nbob | viewer | branch\ncarol | admin | hq",
			ContentStructured,
		},
		{
			"list",
			"- restart the service\n- check the logs\n- escalate to tier two\n- close the ticket",
			ContentList,
		},
		{
			"dialogue",
			"Q: why is the portal slow?\nA: the cache was cold.\nQ: is it fixed now?\nA: yes.",
			ContentDialogue,
		},
		{
			"technical",
			"The firewall dropped packets on the gateway interface. The router rebooted and the vpn tunnel to the dns server recovered after the timeout.",
			ContentTechnical,
		},
		{
			"prose",
			"The team met on Tuesday to discuss the quarterly plan. Everyone agreed the roadmap needed another revision before the review.",
			ContentProse,
		},
		{"empty", "", ContentProse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyContent(tt.text))
		})
	}
}

func TestComputeOverlap_Clamping(t *testing.T) {
	// Tiny chunk size forces the upper clamp of S/2.
	o := ComputeOverlap("plain prose text here. More prose follows here.", 60, 200)
	assert.LessOrEqual(t, o, 30)
	assert.GreaterOrEqual(t, o, MinOverlap)

	// Large chunk size with structured content stays under the 500 cap.
	table := strings.Repeat("a | b | c | d\n", 50)
	o = ComputeOverlap(table, 2000, 200)
	assert.LessOrEqual(t, o, MaxOverlap)
	assert.GreaterOrEqual(t, o, MinOverlap)
}

func TestComputeOverlap_TypeOrdering(t *testing.T) {
	const chunkSize = 1000
	code := "func a() {\n\treturn nil\n}\nfunc b() {\n\tvar x = 2\n\treturn x\n}"
	table := strings.Repeat("col1, col2, col3, col4, col5\n", 20)

	codeOverlap := ComputeOverlap(code, chunkSize, 200)
	structOverlap := ComputeOverlap(table, chunkSize, 200)

	// Structured data keeps much more context than code.
	assert.Less(t, codeOverlap, structOverlap)
	assert.LessOrEqual(t, codeOverlap, 65) // base 50 with small multiplier headroom
}

func TestComputeOverlap_NeverBelowMinimum(t *testing.T) {
	o := ComputeOverlap("short", 200, 1)
	assert.GreaterOrEqual(t, o, MinOverlap)
}
