// Package knowledge is the knowledge graph store.
//
// Entities, relationships and projects are each kept as one point in their
// own collection. Creating or updating an object embeds its canonical text
// and upserts the point under the object's id, so the vector always
// reflects the current fields. Reads go through the cache; every write
// invalidates the cache tiers that could hold a stale copy.
//
// Storage has no referential integrity. Deleting an entity deletes its
// relationships afterwards, and deleting a project deletes everything
// scoped to it. Neither is atomic: a failure part way leaves the remainder
// behind, and the error says which ids were left.
//
// Logical misses are not errors. Getters return nil, deleters return false
// and listers return an empty slice. Errors are reserved for invalid input
// (wrapping ErrValidation) and for storage or embedding failures that
// survived the retry policy.
package knowledge
