// Package topic maps subscription descriptors to MQTT topic strings and
// routes inbound messages back to the subscribers that asked for them.
//
// Topic hierarchy:
//
//	client/<clientId>/<in|out>/[gateway/<gid>/][device/<did>/]asset/<aid>/<state|event|command>
//
// "in" topics carry cloud-to-client JSON, "out" topics carry whatever the
// device published and are delivered as text.
//
// Build is a pure function and Parse is its strict inverse. The Router keeps,
// per topic, the ordered list of descriptors registered for it and fans each
// inbound message out in registration order.
package topic
