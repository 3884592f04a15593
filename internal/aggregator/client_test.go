package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-data/lattice/platform/internal/domain"
)

func TestGetAllCalculations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/calculations", r.URL.Path)
		assert.Equal(t, "deal", r.URL.Query().Get("group_level"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(calculationsResponse{
			UserCalculations: []domain.AvailableCalculation{
				{Ref: domain.CalcRef{Kind: domain.CalcKindUser, Identifier: "wavg_coupon"}, Name: "Weighted Avg Coupon", GroupLevel: domain.GroupLevelDeal},
			},
			SystemCalculations: []domain.AvailableCalculation{
				{Ref: domain.CalcRef{Kind: domain.CalcKindSystem, Identifier: "pool_factor"}, Name: "Pool Factor", GroupLevel: domain.GroupLevelDeal},
			},
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	set, err := client.GetAllCalculations(context.Background(), "deal")
	require.NoError(t, err)

	require.Len(t, set.User, 1)
	assert.Equal(t, "wavg_coupon", set.User[0].Ref.Identifier)
	require.Len(t, set.System, 1)
	assert.Equal(t, "pool_factor", set.System[0].Ref.Identifier)
}

func TestGetAllCalculations_NoGroupLevelOmitsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("group_level"))
		_ = json.NewEncoder(w).Encode(calculationsResponse{})
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).GetAllCalculations(context.Background(), "")
	require.NoError(t, err)
}

func TestGetAllCalculations_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).GetAllCalculations(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestGetAvailableCycles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/cycles", r.URL.Path)
		_ = json.NewEncoder(w).Encode(cyclesResponse{Cycles: []domain.Cycle{
			{Value: "2026-02", Label: "February 2026"},
			{Value: "2026-01", Label: "January 2026"},
		}})
	}))
	defer srv.Close()

	cycles, err := NewHTTPClient(srv.URL).GetAvailableCycles(context.Background())
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "2026-02", cycles[0].Value)
}

func TestCompute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/compute", r.URL.Path)

		var req ComputeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "report-1", req.ReportID)
		require.Len(t, req.Calculations, 1)
		assert.Equal(t, "user:wavg_coupon", req.Calculations[0].String())

		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("deal,wavg_coupon\nDL-7,4.25\n"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL)
	result, err := client.Compute(context.Background(), ComputeRequest{
		ReportID:     "report-1",
		Scope:        domain.NewScopeSelection(domain.ScopeDeal).SelectDeal("DL-7"),
		Calculations: []domain.CalcRef{{Kind: domain.CalcKindUser, Identifier: "wavg_coupon"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Contains(t, string(result.Data), "DL-7")
}

func TestCompute_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL).Compute(context.Background(), ComputeRequest{ReportID: "report-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNewHTTPClient_TrimsTrailingSlash(t *testing.T) {
	c := NewHTTPClient("http://aggregator:9400/")
	assert.Equal(t, "http://aggregator:9400", c.baseURL)
}
