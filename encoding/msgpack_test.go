package encoding

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/tailpub/record"
)

func sampleRecord() record.Record {
	m := record.NewMapper(",", []string{"user", "action"}, true)
	m.Now = func() time.Time { return time.UnixMilli(42) }
	return m.Map([]byte("alice,login"))
}

func TestMarshal_Record(t *testing.T) {
	data, err := Marshal(sampleRecord())
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["user"] != "alice" {
		t.Errorf("expected user alice, got %v (%T)", decoded["user"], decoded["user"])
	}
	if decoded["action"] != "login" {
		t.Errorf("expected action login, got %v", decoded["action"])
	}
	if _, ok := decoded["timestamp"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestUnmarshal_StringNotBytes(t *testing.T) {
	data, err := Marshal(map[string]interface{}{"name": "bob"})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if _, ok := decoded["name"].(string); !ok {
		t.Errorf("expected string, got %T", decoded["name"])
	}
}

func TestMarshal_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	rec := sampleRecord()

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := Marshal(rec); err != nil {
					t.Errorf("Marshal failed: %v", err)
					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestMarshalJSON_NoHTMLEscape(t *testing.T) {
	data, err := MarshalJSON(map[string]string{"v": "<a&b>"})
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if string(data) != `{"v":"<a&b>"}` {
		t.Errorf("unexpected JSON: %s", data)
	}
}

func TestMarshalJSON_Record(t *testing.T) {
	data, err := MarshalJSON(sampleRecord())
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	want := `{"user":"alice","action":"login","timestamp":42}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func BenchmarkMarshal(b *testing.B) {
	rec := sampleRecord()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Marshal(rec)
	}
}
