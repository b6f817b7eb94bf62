package nav

import "testing"

type recordingNavigator struct {
	routes []string
}

func (n *recordingNavigator) NavigateTo(route string, _ map[string]string) {
	n.routes = append(n.routes, route)
}

func (n *recordingNavigator) GoBack() {}

func TestRequireSession(t *testing.T) {
	tests := []struct {
		name       string
		uid        string
		expected   bool
		wantRoutes []string
	}{
		{
			name:       "signed out redirects to login",
			uid:        "",
			expected:   false,
			wantRoutes: []string{RouteLogin},
		},
		{
			name:     "signed in passes",
			uid:      "u1",
			expected: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			n := &recordingNavigator{}
			got := RequireSession(test.uid, n)
			if got != test.expected {
				t.Errorf("RequireSession(%q) = %v; want %v", test.uid, got, test.expected)
			}
			if len(n.routes) != len(test.wantRoutes) {
				t.Fatalf("routes = %v; want %v", n.routes, test.wantRoutes)
			}
			for i := range test.wantRoutes {
				if n.routes[i] != test.wantRoutes[i] {
					t.Errorf("routes = %v; want %v", n.routes, test.wantRoutes)
				}
			}
		})
	}
}
