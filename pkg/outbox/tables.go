package outbox

import "github.com/oagudo/newsletter/pkg/store"

// TableNames names the tables used by Writer and Worker.
type TableNames struct {
	Issues        string
	DeliveryQueue string
	Subscriptions string
}

// DefaultTableNames returns the table names created by the bundled migrations.
func DefaultTableNames() TableNames {
	return TableNames{
		Issues:        "newsletter_issues",
		DeliveryQueue: "issue_delivery_queue",
		Subscriptions: "subscriptions",
	}
}

func (t TableNames) mustValidate() {
	store.MustTableName(t.Issues)
	store.MustTableName(t.DeliveryQueue)
	store.MustTableName(t.Subscriptions)
}
