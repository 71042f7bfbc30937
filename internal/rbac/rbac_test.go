package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer comment", role: RoleViewer, action: ActionComment, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "member write", role: RoleMember, action: ActionWrite, allow: true},
		{name: "member manage", role: RoleMember, action: ActionManage, allow: false},
		{name: "admin manage", role: RoleAdmin, action: ActionManage, allow: true},
		{name: "admin own", role: RoleAdmin, action: ActionOwn, allow: false},
		{name: "owner own", role: RoleOwner, action: ActionOwn, allow: true},
		{name: "unknown role", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("expected admin, got %q", got)
	}
	if got := Normalize("superuser"); got != RoleViewer {
		t.Fatalf("expected viewer fallback, got %q", got)
	}
}

func TestAssignable(t *testing.T) {
	if !Assignable(RoleAdmin, RoleMember) {
		t.Fatal("admin should assign member")
	}
	if Assignable(RoleAdmin, RoleOwner) {
		t.Fatal("admin should not assign owner")
	}
	if !Assignable(RoleOwner, RoleOwner) {
		t.Fatal("owner should assign owner")
	}
	if Assignable(RoleMember, RoleViewer) {
		t.Fatal("member should not assign roles")
	}
}
