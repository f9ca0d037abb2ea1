package sources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opendevdata/harvester/internal/workflows"
)

const kfwExport = `[
  {
    "projnr": "20100",
    "title": "Water Supply Phase II",
    "status": "Ongoing",
    "hostDate": "November 1, 2023",
    "finanzierungsinstrument": "Development loan",
    "amount": 25.5,
    "crscode2": "14030",
    "country": "Kenya",
    "projekttraegers": ["Ministry of Water"],
    "kofinanzpartners": ["EIB"],
    "principal": "BMZ"
  },
  {
    "projnr": "20200",
    "title": "Grid Expansion",
    "status": "Completed",
    "hostDate": "",
    "finanzierungsinstrument": "Grant",
    "amount": 10,
    "crscode2": "23630",
    "country": "Ghana",
    "projekttraegers": [],
    "kofinanzpartners": [],
    "principal": "AA"
  }
]`

func TestKFWCleanProjects(t *testing.T) {
	t.Parallel()

	k := newKFW(workflows.Deps{})
	specs, err := k.CleanProjects(context.Background(), []byte(kfwExport))
	require.NoError(t, err)
	require.Len(t, specs, 2)

	first := specs[0]
	require.Equal(t, SourceKFW, first.Source)
	require.Equal(t, "20100", first.Number)
	require.Equal(t, "Water Supply Phase II", first.Name)
	require.Equal(t, "Ongoing", first.Status)
	require.Equal(t, "2023-11-01", first.DateLastUpdated)
	require.Equal(t, "Development loan", first.FinanceTypes)
	require.Equal(t, "14030", first.Sectors)
	require.Equal(t, "Kenya", first.Countries)
	require.Contains(t, first.Affiliates, "Ministry of Water")
	require.Contains(t, first.Affiliates, "EIB")
	require.Contains(t, first.Affiliates, "(BMZ)")
	require.NotNil(t, first.TotalAmount)
	require.InDelta(t, 25_500_000, *first.TotalAmount, 0.01)
	require.Equal(t, "EUR", first.TotalAmountCurrency)
	require.Equal(t,
		"https://www.kfw-entwicklungsbank.de/ipfz/Projektdatenbank/Water-Supply-Phase-II-20100.htm",
		first.URL)

	second := specs[1]
	require.Empty(t, second.DateLastUpdated)
	require.Contains(t, second.Affiliates, "(AA)")
}

func TestKFWCleanProjectsRejectsMalformedExport(t *testing.T) {
	t.Parallel()

	k := newKFW(workflows.Deps{})
	_, err := k.CleanProjects(context.Background(), []byte("<html>not json</html>"))
	require.Error(t, err)
}
