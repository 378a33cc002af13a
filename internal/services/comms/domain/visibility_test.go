package domain

import "testing"

func TestNewProjector_ValidatesTable(t *testing.T) {
	t.Parallel()

	if _, err := NewProjector(); err != nil {
		t.Fatalf("projection table failed validation: %v", err)
	}
}

func TestProject_FailedMessagePerRole(t *testing.T) {
	t.Parallel()

	projector, err := NewProjector()
	if err != nil {
		t.Fatal(err)
	}
	msg := Message{ID: "m1", State: StateFailed}

	tests := []struct {
		role          Role
		wantLabel     string
		wantFailure   string
		wantCanResend bool
	}{
		{RoleRecipient, LabelKeyPending, "", false},
		{RoleTeacher, LabelKeyAttention, "", false},
		{RoleSchoolAdmin, LabelKeyAttention, "", true},
		{RolePlatformAdmin, LabelKeyFailed, "PROVIDER_ERROR", true},
	}
	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			t.Parallel()

			projection, err := projector.Project(tc.role, msg, "PROVIDER_ERROR")
			if err != nil {
				t.Fatal(err)
			}
			if projection.LabelKey != tc.wantLabel {
				t.Errorf("label = %q, want %q", projection.LabelKey, tc.wantLabel)
			}
			if projection.FailureCode != tc.wantFailure {
				t.Errorf("failure code = %q, want %q", projection.FailureCode, tc.wantFailure)
			}
			if projection.Capabilities.CanResend != tc.wantCanResend {
				t.Errorf("can resend = %v, want %v", projection.Capabilities.CanResend, tc.wantCanResend)
			}
		})
	}
}

func TestProject_RecipientNeverSeesFailure(t *testing.T) {
	t.Parallel()

	projector, err := NewProjector()
	if err != nil {
		t.Fatal(err)
	}
	states := []State{StateDraft, StatePending, StateApproved, StateQueued,
		StateSending, StateSent, StateDelivered, StateFailed}
	for _, state := range states {
		projection, err := projector.Project(RoleRecipient, Message{State: state}, "DELIVERY_TIMEOUT")
		if err != nil {
			t.Fatalf("state %s: %v", state, err)
		}
		if projection.LabelKey == LabelKeyFailed {
			t.Errorf("state %s: recipient saw the failure label", state)
		}
		if projection.FailureCode != "" {
			t.Errorf("state %s: recipient saw failure code %q", state, projection.FailureCode)
		}
		if projection.Capabilities.CanSeeFailureReason {
			t.Errorf("state %s: recipient can see failure reason", state)
		}
	}
}

func TestProject_CapabilitiesByRoleAndState(t *testing.T) {
	t.Parallel()

	projector, err := NewProjector()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		role Role
		msg  Message
		want Capabilities
	}{
		{"teacher edits drafts", RoleTeacher, Message{State: StateDraft},
			Capabilities{CanEdit: true, CanCancel: true}},
		{"teacher cannot touch queued", RoleTeacher, Message{State: StateQueued},
			Capabilities{}},
		{"school admin cancels sending", RoleSchoolAdmin, Message{State: StateSending},
			Capabilities{CanCancel: true, CanViewInternalNotes: true}},
		{"school admin resends failed", RoleSchoolAdmin, Message{State: StateFailed},
			Capabilities{CanResend: true, CanViewInternalNotes: true}},
		{"recipient has no capabilities", RoleRecipient, Message{State: StateDelivered},
			Capabilities{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			projection, err := projector.Project(tc.role, tc.msg, "")
			if err != nil {
				t.Fatal(err)
			}
			if projection.Capabilities != tc.want {
				t.Errorf("capabilities = %+v, want %+v", projection.Capabilities, tc.want)
			}
		})
	}
}

func TestProject_CancelledMessage(t *testing.T) {
	t.Parallel()

	projector, err := NewProjector()
	if err != nil {
		t.Fatal(err)
	}
	cancelled := fixedTime()
	msg := Message{State: StateQueued, CancelledAt: &cancelled}

	staff, err := projector.Project(RoleSchoolAdmin, msg, "")
	if err != nil {
		t.Fatal(err)
	}
	if staff.LabelKey != LabelKeyCancelled {
		t.Errorf("staff label = %q, want cancelled", staff.LabelKey)
	}
	if staff.Capabilities.CanCancel || staff.Capabilities.CanEdit || staff.Capabilities.CanResend {
		t.Errorf("cancelled message retains action capabilities: %+v", staff.Capabilities)
	}

	recipient, err := projector.Project(RoleRecipient, msg, "")
	if err != nil {
		t.Fatal(err)
	}
	if recipient.LabelKey == LabelKeyCancelled {
		t.Error("recipient view exposed the cancelled label")
	}
}
