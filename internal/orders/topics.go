package orders

import "strconv"

const TopicOrdersChanged = "orders.changed"

// Partition key = order id, so events for one order keep their order.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }

// BatchPartitionKey is used for batch events that span several orders.
var BatchPartitionKey = []byte("batch")
