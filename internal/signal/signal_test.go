package signal

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		expected *Signal
		wantErr  bool
	}{
		{
			name:     "FullAlert",
			text:     "[Ai 종목포착 시그널]\n종목명: 삼성전자(005930)\n적정매수가: 75,000원\n포착 현재가: 74,900원",
			expected: &Signal{StockCode: "005930", StockName: "삼성전자", TargetPrice: 75000, CurrentPrice: 74900},
		},
		{
			name:     "FullwidthColonAndSpacing",
			text:     "종목포착\n종목명 ： SK하이닉스 (000660)\n적정 매수 : 198,500\n현재가：197,000원",
			expected: &Signal{StockCode: "000660", StockName: "SK하이닉스", TargetPrice: 198500, CurrentPrice: 197000},
		},
		{
			name:     "PricesMissing",
			text:     "종목포착! 종목명: 카카오(035720)",
			expected: &Signal{StockCode: "035720", StockName: "카카오"},
		},
		{
			name:    "NoMarker",
			text:    "종목명: 삼성전자(005930) 적정매수가: 75,000원",
			wantErr: true,
		},
		{
			name:    "MarkerWithoutStock",
			text:    "오늘의 종목포착 요약입니다",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := Parse(tc.text)
			if tc.wantErr {
				assert.Error(t, err)
				assert.Nil(t, sig)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, sig)
		})
	}
}

func TestParseNotSignal(t *testing.T) {
	_, err := Parse("시장 동향 브리핑입니다")
	assert.ErrorIs(t, err, ErrNotSignal)
}
