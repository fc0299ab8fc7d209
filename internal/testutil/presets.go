package testutil

import "github.com/zjrosen/courier/internal/domain"

// WithStandardSession adds three request tabs across two collections, a
// folder tab, and drafts for two of the requests.
//
//	t-users  (c1::users, draft named "Users v2")
//	t-orders (c1::orders, active)
//	t-health (c2::health, draft without a name)
//	t-folder (c1::f-admin, folder)
func (b *SessionBuilder) WithStandardSession() *SessionBuilder {
	return b.
		WithTab("t-users", "users", Named("List users"), Badge("GET"), UIState("panel", "body")).
		WithTab("t-orders", "orders", Named("Create order"), Badge("POST")).
		WithTab("t-health", "health", InCollection("c2"), Named("Health")).
		WithTab("t-folder", "f-admin", OfType(domain.TabTypeFolder), Named("admin")).
		Active("t-orders").
		WithDraft("c1", "users", map[string]any{"name": "Users v2", "url": "/v2/users"}).
		WithDraft("c2", "health", map[string]any{"url": "/healthz"})
}
