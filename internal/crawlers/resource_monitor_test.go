package crawlers

import "testing"

func TestResourceMonitor_Sample(t *testing.T) {
	rm := NewResourceMonitor()
	s := rm.Sample()
	if s.RSS == 0 {
		t.Error("RSS不应为0")
	}
	if s.HeapAlloc == 0 {
		t.Error("HeapAlloc不应为0")
	}
	if s.String() == "" {
		t.Error("String()不应为空")
	}
}
