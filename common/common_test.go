package common

import (
	"encoding/json"
	"testing"
)

func TestAssetFileName(t *testing.T) {
	tests := map[string]string{
		"N37W106":                   "N37W106.tif",
		"SRTM1N39W105V3":            "SRTM1N39W105V3.tif",
		"LC08_L1TP_033032_20200101": "LC08_L1TP_033032_20200101.tif",
		"../etc/passwd":             ".._etc_passwd.tif",
		"N37W106 copy":              "N37W106_copy.tif",
	}
	for displayID, expected := range tests {
		if name := AssetFileName(displayID); name != expected {
			t.Errorf("expected %s got %s", expected, name)
		}
	}
}

func TestAssetDisplayID(t *testing.T) {
	if id := AssetDisplayID("12", "", "N37W106"); id != "N37W106" {
		t.Errorf("expected N37W106 got %s", id)
	}
	if id := AssetDisplayID("12", "N38W106", "N37W106"); id != "N38W106" {
		t.Errorf("expected N38W106 got %s", id)
	}
	if id := AssetDisplayID("12"); id != "12" {
		t.Errorf("expected 12 got %s", id)
	}
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(Result{Status: StatusPARTIAL})
	if err != nil {
		t.Fatal(err)
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPARTIAL {
		t.Errorf("expected PARTIAL got %s", res.Status)
	}
	if _, err := StatusString("unknown"); err == nil {
		t.Error("expected an error")
	}
	if s, err := StatusString("noresult"); err != nil || s != StatusNORESULT {
		t.Errorf("expected NORESULT got %s (%v)", s, err)
	}
}
