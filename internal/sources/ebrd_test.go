package sources

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opendevdata/harvester/internal/workflows"
)

const ebrdExport = `Project ID,Title,Country,Sector,Publication date,Project status,URL link to project
52642,Green City Tram,Poland,Municipal infrastructure,12 Jan 2023,Passed Final Review,https://www.ebrd.com/work-with-us/projects/psd/52642.html
51000,Agri Holdings Loan,Ukraine,Agribusiness,3 Mar 2022,Signed,https://www.ebrd.com/work-with-us/projects/psd/51000.html
,,,,,
,Orphan Row Without ID,Serbia,Energy,1 Jan 2020,Signed,https://www.ebrd.com/work-with-us/projects/psd/0.html`

const ebrdProjectPage = `<html><body>
<h2>Approval Date</h2><p>14 Jun 2023</p>
<h2>Client</h2><p>Tramwaje Warszawskie Sp. z o.o.</p>
<h2>EBRD Finance</h2><p>EUR 50,000,000</p>
</body></html>`

func TestEBRDCleanProjects(t *testing.T) {
	t.Parallel()

	e := newEBRD(workflows.Deps{})
	specs, urls, err := e.CleanProjects(context.Background(), []byte(ebrdExport))
	require.NoError(t, err)
	require.Len(t, specs, 2)
	require.Equal(t, []string{
		"https://www.ebrd.com/work-with-us/projects/psd/52642.html",
		"https://www.ebrd.com/work-with-us/projects/psd/51000.html",
	}, urls)

	first := specs[0]
	require.Equal(t, SourceEBRD, first.Source)
	require.Equal(t, "52642", first.Number)
	require.Equal(t, "Green City Tram", first.Name)
	require.Equal(t, "Pending Approval", first.Status)
	require.Equal(t, "Poland", first.Countries)
	require.Equal(t, "Municipal infrastructure", first.Sectors)
	require.Equal(t, "2023-01-12", first.DateDisclosed)

	require.Equal(t, "Signed", specs[1].Status)
}

func TestEBRDCleanProjectsEmptyExport(t *testing.T) {
	t.Parallel()

	e := newEBRD(workflows.Deps{})
	specs, urls, err := e.CleanProjects(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, specs)
	require.Empty(t, urls)
}

func TestParseEBRDProjectPage(t *testing.T) {
	t.Parallel()

	patch, err := parseEBRDProjectPage("https://www.ebrd.com/work-with-us/projects/psd/52642.html",
		[]byte(ebrdProjectPage))
	require.NoError(t, err)

	require.Equal(t, SourceEBRD, patch.Source)
	require.NotNil(t, patch.DateApproved)
	require.Equal(t, "2023-06-14", *patch.DateApproved)
	require.NotNil(t, patch.Affiliates)
	require.Equal(t, "Tramwaje Warszawskie Sp. z o.o.", *patch.Affiliates)
	require.NotNil(t, patch.TotalAmount)
	require.InDelta(t, 50_000_000, *patch.TotalAmount, 0.01)
	require.NotNil(t, patch.TotalAmountCurrency)
	require.Equal(t, "EUR", *patch.TotalAmountCurrency)
	require.Nil(t, patch.TotalAmountUSD)
	require.Nil(t, patch.Name)
}

func TestParseEBRDProjectPageMissingSections(t *testing.T) {
	t.Parallel()

	patch, err := parseEBRDProjectPage("https://example.org/p", []byte("<html><body></body></html>"))
	require.NoError(t, err)
	require.Nil(t, patch.DateApproved)
	require.Nil(t, patch.Affiliates)
	require.Nil(t, patch.TotalAmount)
}
