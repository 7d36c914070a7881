// Package cache owns the single cached avatar slot. A Store persists the
// payload together with the extension it was fetched as, and reports the last
// write time; Slot layers the TTL/enabled policy on top so callers only ask
// "is it fresh", "read it" and "replace it". The file backend writes through a
// temp file + rename so readers never observe a partial payload; the redis and
// memory backends swap the whole entry in one operation.
package cache
