// Package document is the value model shared by every layer of the engine.
//
// Documents are bson.D values normalized through a BSON round trip, so nested
// documents are bson.D, arrays are bson.A and scalars are the concrete
// mongo-driver primitive types. Compare implements the canonical cross-type
// order (MinKey < null < numbers < strings < objects < arrays < binary <
// ObjectId < bool < date < timestamp < regex < ... < MaxKey) with an optional
// collator for string comparison.
package document
