package badger

import (
	"github.com/poiesic/transitstore/core"
	"github.com/poiesic/transitstore/storage"
)

// embeddingTasks derives the index rows of entity: one embedding row and
// its inverse per nested interesting entity, and one referencing row and
// its inverse per reference outside the excluded default attributes. With
// deleteExisting the previous rows of the entity are removed first.
func (e *Engine) embeddingTasks(entity *core.Entity, deleteExisting bool) ([]task, error) {
	edges, unknown, err := e.Registry().Edges(entity)
	if err != nil {
		return nil, err
	}
	for _, name := range unknown {
		e.warnOnce("reference class cannot be found in registry", name)
	}

	tasks := make([]task, 0, 2*len(edges)+1)
	if deleteExisting {
		tasks = append(tasks, task{
			kind: taskDeleteIndexRows,
			key:  e.serializer.EncodeKey(entity.ID, entity.NormalizedVersion(), entity.Type, true),
		})
	}

	for _, edge := range edges {
		parentKey := e.serializer.EncodeKey(edge.ParentID, edge.ParentVersion, edge.ParentType, true)
		childKey := e.serializer.EncodeKey(edge.ChildID, edge.ChildVersion, edge.ChildType, true)
		forward, err := e.relations.Encode(storage.Relation{
			Type: edge.ChildType, ID: edge.ChildID, Version: edge.ChildVersion, Path: edge.Path,
		})
		if err != nil {
			return nil, err
		}
		inverse, err := e.relations.Encode(storage.Relation{
			Type: edge.ParentType, ID: edge.ParentID, Version: edge.ParentVersion, Path: edge.Path,
		})
		if err != nil {
			return nil, err
		}

		forwardIndex, inverseIndex := storage.IndexReferencing, storage.IndexReferencingInwards
		if edge.Embedding {
			forwardIndex, inverseIndex = storage.IndexEmbedding, storage.IndexEmbeddingInverse
		}
		inv, err := multiPut(inverseIndex, childKey, inverse)
		if err != nil {
			return nil, err
		}
		fwd, err := multiPut(forwardIndex, parentKey, forward)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, inv, fwd)
	}
	return tasks, nil
}

func multiPut(index storage.Index, key, value []byte) (task, error) {
	physical, err := makeMultiKey(string(index), key, value)
	if err != nil {
		return task{}, err
	}
	return task{kind: taskPut, store: string(index), key: physical}, nil
}
