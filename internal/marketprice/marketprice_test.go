package marketprice

import (
	"errors"
	"testing"

	"github.com/atmx/perp-engine/internal/num"
)

func d(s string) num.Value {
	return num.MustParse(s)
}

var tolerance = num.New(1, -20)

func TestRoundTrip_BothMarketTypes(t *testing.T) {
	amounts := []string{"0", "1", "1234.5678", "-500", "0.000001"}
	prices := []string{"100", "0.37", "25000", "3"}

	for _, mt := range []MarketType{CollateralIsQuote, CollateralIsBase} {
		for _, p := range prices {
			for _, a := range amounts {
				x := d(a)
				got := CollateralToNotional(mt, NotionalToCollateral(mt, x, d(p)), d(p))
				if got.Sub(x).Abs().GreaterThan(tolerance) {
					t.Errorf("%s price=%s: round trip of %s gave %s", mt, p, a, got)
				}
			}
		}
	}
}

func TestNotionalToCollateral(t *testing.T) {
	if got := NotionalToCollateral(CollateralIsQuote, d("50"), d("100")); !got.Equal(d("5000")) {
		t.Errorf("quote market: expected 5000, got %s", got)
	}
	if got := NotionalToCollateral(CollateralIsBase, d("5000"), d("100")); !got.Equal(d("50")) {
		t.Errorf("base market: expected 50, got %s", got)
	}
}

func TestZeroPrice_ReturnsInput(t *testing.T) {
	if got := CollateralToNotional(CollateralIsQuote, d("7"), num.Zero); !got.Equal(d("7")) {
		t.Errorf("expected input back on zero price, got %s", got)
	}
	if got := UsdToCollateral(d("7"), num.Zero); !got.Equal(d("7")) {
		t.Errorf("expected input back on zero price, got %s", got)
	}
}

func TestPriceNotionalInCollateral(t *testing.T) {
	if got := PriceNotionalInCollateral(CollateralIsQuote, d("100")); !got.Equal(d("100")) {
		t.Errorf("quote market: expected 100, got %s", got)
	}
	if got := PriceNotionalInCollateral(CollateralIsBase, d("100")); !got.Equal(d("0.01")) {
		t.Errorf("base market: expected 0.01, got %s", got)
	}
	if got := PriceCollateralInNotional(CollateralIsBase, d("100")); !got.Equal(d("100")) {
		t.Errorf("base market: expected 100, got %s", got)
	}
}

func TestBasePriceToNotional_Sentinels(t *testing.T) {
	g := CollateralIsBase.Geometry()
	if got := g.BasePriceToNotional(d("0.00000001")); !got.IsPosInf() {
		t.Errorf("price below epsilon should map to +Inf, got %s", got)
	}
	if got := g.BasePriceToNotional(num.Inf); !got.IsZero() {
		t.Errorf("+Inf price should map to 0, got %s", got)
	}
	if got := g.BasePriceToNotional(d("4")); !got.Equal(d("0.25")) {
		t.Errorf("expected 0.25, got %s", got)
	}
	if got := CollateralIsQuote.Geometry().BasePriceToNotional(d("4")); !got.Equal(d("4")) {
		t.Errorf("quote market should pass prices through, got %s", got)
	}
}

func TestLeverageRoundTrip(t *testing.T) {
	for _, mt := range []MarketType{CollateralIsQuote, CollateralIsBase} {
		g := mt.Geometry()
		for _, dir := range []num.Value{num.One, num.One.Neg()} {
			lev := d("7.5")
			ratio := g.LeverageToNotional(dir, lev)
			back := g.LeverageFromNotional(dir, ratio)
			if !back.Equal(lev) {
				t.Errorf("%s dir=%s: expected leverage 7.5 back, got %s", mt, dir, back)
			}
		}
	}
}

func TestUsdToNotional_UsdQuotedBaseMarket(t *testing.T) {
	got := UsdToNotional(CollateralIsBase, d("250"), d("2000"), "USD", d("2000"))
	if !got.Equal(d("250")) {
		t.Errorf("USD-quoted base market should short-circuit, got %s", got)
	}
	got = UsdToNotional(CollateralIsQuote, d("250"), d("50"), "USDC", d("1"))
	if !got.Equal(d("5")) {
		t.Errorf("expected 5 base units of notional, got %s", got)
	}
}

func TestPriceNotionalInUsd(t *testing.T) {
	got := PriceNotionalInUsd(CollateralIsQuote, d("50"), "USDC", d("1"))
	if !got.Equal(d("50")) {
		t.Errorf("expected 50, got %s", got)
	}
}

func TestParseMarketType(t *testing.T) {
	if _, err := ParseMarketType("collateral_is_base"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseMarketType("both"); !errors.Is(err, ErrUnknownMarketType) {
		t.Errorf("expected ErrUnknownMarketType, got %v", err)
	}
}
