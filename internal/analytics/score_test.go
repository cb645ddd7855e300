package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func flatPrice(in *ScoreInput, p string) {
	in.High = dec(p)
	in.Low = dec(p)
	in.Close = dec(p)
}

func TestScoreVolumeOnly(t *testing.T) {
	s := NewScorer(DefaultScoreWeights())

	in := ScoreInput{Volume: 5000}
	flatPrice(&in, "182.00")

	// No average known: raw volume / 100, weighted 1.0.
	assert.True(t, s.Score(in).Equal(dec("50")), "score = %s", s.Score(in))
}

func TestScoreVolumeRelativeToAverage(t *testing.T) {
	s := NewScorer(DefaultScoreWeights())
	avg := int64(2500)

	in := ScoreInput{Volume: 5000, AvgVolume: &avg}
	flatPrice(&in, "182.00")

	// 2x the average, scaled to 1000.
	assert.True(t, s.Score(in).Equal(dec("2000")))
}

func TestScoreComponents(t *testing.T) {
	s := NewScorer(DefaultScoreWeights())

	in := ScoreInput{
		Volume:         5000,             // 50 * 1.0
		OIChangePct:    decP("-0.00625"), // 62.5 * 0.8 = 50
		OrderBookRatio: decP("0.3"),      // 400 * 0.6 = 240
		High:           dec("102"),
		Low:            dec("100"),
		Close:          dec("100"),   // 100 * 0.5 = 50
		GammaSpike:     dec("0.5"),   // 500 * 0.4 = 200
		BidAskSpread:   decP("0.01"), // 50 * 0.3 = 15, subtracted
	}

	got := s.Score(in)
	assert.True(t, got.Equal(dec("575")), "score = %s", got)
}

func TestScoreFlooredAtZero(t *testing.T) {
	s := NewScorer(DefaultScoreWeights())

	in := ScoreInput{BidAskSpread: decP("0.5")}
	flatPrice(&in, "182.00")

	assert.True(t, s.Score(in).IsZero())
}

func TestScoreWeightIsObservable(t *testing.T) {
	base := DefaultScoreWeights()
	muted := base
	muted.OI = 0

	in := ScoreInput{OIChangePct: decP("-0.00625")}
	flatPrice(&in, "182.00")

	with := NewScorer(base).Score(in)
	without := NewScorer(muted).Score(in)

	// Dropping the OI weight removes exactly the OI component.
	assert.True(t, with.Sub(without).Equal(dec("50")), "diff = %s", with.Sub(without))
}

func TestScoreAbsentInputsContributeZero(t *testing.T) {
	s := NewScorer(DefaultScoreWeights())

	in := ScoreInput{}
	flatPrice(&in, "182.00")

	assert.True(t, s.Score(in).IsZero())
}
