package badger

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so prefixed keys organize the record data
// and its secondary indexes into namespaces. Index entries carry no value:
// the key alone encodes the relation, and listing is a prefix scan.
//
// Data Type            Prefix   Key Format               Value Type
// ==================================================================
// File Record          "f:"     f:<fileID>               FileRecord (JSON)
// Owner Index          "o:"     o:<ownerID>:<fileID>     empty
// Grant Index          "g:"     g:<userID>:<fileID>      empty
//
// User IDs come from the identity authority and never contain ':' in
// practice; the separator is still placed after the whole user ID so a scan
// for "o:u1:" cannot match "o:u10:...".

const (
	prefixFile  = "f:"
	prefixOwner = "o:"
	prefixGrant = "g:"
)

func keyFile(id string) []byte {
	return []byte(prefixFile + id)
}

func keyOwner(ownerID, id string) []byte {
	return []byte(prefixOwner + ownerID + ":" + id)
}

func keyOwnerPrefix(ownerID string) []byte {
	return []byte(prefixOwner + ownerID + ":")
}

func keyGrant(userID, id string) []byte {
	return []byte(prefixGrant + userID + ":" + id)
}

func keyGrantPrefix(userID string) []byte {
	return []byte(prefixGrant + userID + ":")
}

// idFromIndexKey strips an index prefix and returns the file ID.
func idFromIndexKey(key, prefix []byte) string {
	return string(key[len(prefix):])
}
