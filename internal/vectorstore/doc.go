// Package vectorstore stores chunk embeddings and answers nearest-neighbour
// queries over them.
//
// Every repository gets its own collection, named by CollectionName from the
// repository URL. Two backends implement Store:
//
//   - ChromemStore: embedded chromem-go database persisted under a local
//     directory. Needs no external service and is the default.
//   - QdrantStore: Qdrant over its native gRPC API.
//
// Metadata is a flat string map on both backends so search results look the
// same whichever one produced them.
//
// # Usage
//
//	store, err := vectorstore.NewStore(vectorstore.FromSettings(cfg.VectorStore), provider, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	name := vectorstore.CollectionName(url)
//	if err := store.AddDocuments(ctx, name, docs); err != nil {
//	    return err
//	}
//	results, err := store.Search(ctx, name, "where is the retry loop?", 5)
//
// # Collection names
//
// Names must match ^[a-z0-9_]{1,64}$ so they are safe as directory names for
// chromem and as Qdrant collection identifiers.
package vectorstore
