//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestHealth(t *testing.T) {
	resp := env.GET(t, "/health")
	mustStatus(t, resp, http.StatusOK)
}

func TestSetAndGetTabVolume(t *testing.T) {
	resp := env.PUT(t, fmt.Sprintf("/api/v1/tab/%d/volume", env.TabID), map[string]any{"volume": 150})
	mustStatus(t, resp, http.StatusOK)

	tab := env.getTab(t, env.TabID)
	if tab.Volume != 150 {
		t.Fatalf("tab volume = %d, want 150", tab.Volume)
	}
	if tab.Badge != "150" {
		t.Fatalf("badge = %q, want 150", tab.Badge)
	}

	if got := env.domainVolumes(t)[env.Domain]; got != 150 {
		t.Fatalf("stored domain volume = %d, want 150", got)
	}
}

func TestSliderInputDebounces(t *testing.T) {
	// Raw position 25 decodes to 160%.
	resp := env.PUT(t, fmt.Sprintf("/api/v1/tab/%d/slider", env.TabID), map[string]any{"position": 25})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("slider input: status %d", resp.StatusCode)
	}
	var out struct {
		Volume int `json:"volume"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Volume != 160 {
		t.Fatalf("decoded volume = %d, want 160", out.Volume)
	}

	// The apply is debounced; poll until the tab reflects it.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if env.getTab(t, env.TabID).Volume == 160 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("tab volume never reached 160 after slider input")
}

func TestPopupStateRoundTrip(t *testing.T) {
	resp := env.PUT(t, fmt.Sprintf("/api/v1/tab/%d/volume", env.TabID), map[string]any{"volume": 80})
	mustStatus(t, resp, http.StatusOK)

	resp = env.GET(t, fmt.Sprintf("/api/v1/tab/%d/popup", env.TabID))
	defer resp.Body.Close()
	var st struct {
		Volume         int  `json:"volume"`
		SliderPosition int  `json:"slider_position"`
		SliderMax      int  `json:"slider_max"`
		Available      bool `json:"available"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode popup state: %v", err)
	}
	if st.Volume != 80 {
		t.Fatalf("popup volume = %d, want 80", st.Volume)
	}
	if st.SliderPosition != 17 { // 80/10+9
		t.Fatalf("slider position = %d, want 17", st.SliderPosition)
	}
	if st.SliderMax != 69 {
		t.Fatalf("slider max = %d, want 69", st.SliderMax)
	}
	if !st.Available {
		t.Fatal("tab must report volume control available")
	}
}

func TestProbeReportsInterceptor(t *testing.T) {
	resp := env.GET(t, fmt.Sprintf("/api/v1/tab/%d/probe", env.TabID))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("probe: status %d", resp.StatusCode)
	}
	var probe struct {
		Installed bool `json:"installed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&probe); err != nil {
		t.Fatalf("decode probe: %v", err)
	}
	if !probe.Installed {
		t.Fatal("interceptor must be installed in the discovered tab")
	}
}

func TestDeleteDomainResetsTab(t *testing.T) {
	resp := env.PUT(t, fmt.Sprintf("/api/v1/tab/%d/volume", env.TabID), map[string]any{"volume": 300})
	mustStatus(t, resp, http.StatusOK)

	resp = env.DELETE(t, "/api/v1/domain/"+env.Domain)
	mustStatus(t, resp, http.StatusOK)

	if _, ok := env.domainVolumes(t)[env.Domain]; ok {
		t.Fatalf("domain %s still stored after delete", env.Domain)
	}

	tab := env.getTab(t, env.TabID)
	if tab.Volume != 100 {
		t.Fatalf("tab volume after reset = %d, want 100", tab.Volume)
	}
	if tab.Badge != "" {
		t.Fatalf("badge after reset = %q, want empty", tab.Badge)
	}
}

func TestUnknownTabIs404(t *testing.T) {
	resp := env.GET(t, "/api/v1/tab/999999/popup")
	mustStatus(t, resp, http.StatusNotFound)
}

func TestVolumeOutOfRangeRejected(t *testing.T) {
	resp := env.PUT(t, fmt.Sprintf("/api/v1/tab/%d/volume", env.TabID), map[string]any{"volume": 9000})
	defer resp.Body.Close()
	if resp.StatusCode < 400 || resp.StatusCode >= 500 {
		t.Fatalf("out-of-range volume: status %d, want 4xx", resp.StatusCode)
	}
}
