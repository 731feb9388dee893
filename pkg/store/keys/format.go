package keys

const (
	// notation dictionary for key formats:
	// c   = channel
	// m   = message
	// idx = index
	// segments are separated by ":"; <...> = variable segment

	// primary storage key formats
	ChannelKey = "c:%s"    // c:<channel_id>
	MessageKey = "m:%s:%s" // m:<channel_id>:<message_id>

	// channel → message index ordered by (created, id)
	ChannelMessageIndexKey = "idx:c:%s:m:%s:%s" // idx:c:<channel_id>:m:<created>:<message_id>

	// prefixes
	ChannelPrefix             = "c:"
	MessagePrefix             = "m:%s:"       // m:<channel_id>:
	ChannelMessageIndexPrefix = "idx:c:%s:m:" // idx:c:<channel_id>:m:

	// created is <unix seconds, sign bit flipped, %016x><nanos %09d> so every
	// time.Time sorts lexicographically in instant order
	TSSecWidth  = 16
	TSNanoWidth = 9
	TSWidth     = TSSecWidth + TSNanoWidth

	// system keys
	SystemVersionKey = "system:version"
	SchemaVersion    = "2"
)
