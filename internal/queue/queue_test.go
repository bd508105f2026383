package queue

import "testing"

func TestQueueNames(t *testing.T) {
	if DispatchQueueName != "dispatch" {
		t.Fatalf("DispatchQueueName = %s, want dispatch", DispatchQueueName)
	}
	if DispatchDLQName != "dlq.dispatch" {
		t.Fatalf("DispatchDLQName = %s, want dlq.dispatch", DispatchDLQName)
	}
}

func TestDispatchMessageValidate(t *testing.T) {
	msg := DispatchMessage{BatchID: "b1", CorrelationID: "c1"}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.BatchID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty batch id")
	}

	msg.BatchID = "   "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for blank batch id")
	}
}
