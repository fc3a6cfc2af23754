// Package orders is the event source of tearoom: rooms place catering
// orders, kitchens move them through their lifecycle, and every change is
// published to the realtime bus for the room, the kitchen and the tenant.
//
//	pending -> accepted | cancelled
//	accepted -> preparing | cancelled
//	preparing -> delivered
package orders
