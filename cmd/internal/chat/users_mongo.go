package chat

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongoUser struct {
	ID     string `bson:"_id"`
	Nombre string `bson:"nombre"`
	Email  string `bson:"email"`
}

// MongoDirectory resolves users from the shared marketplace "usuarios" collection.
type MongoDirectory struct {
	users *mongo.Collection
}

// NewMongoDirectory constructs a directory over db.usuarios.
func NewMongoDirectory(db *mongo.Database) (*MongoDirectory, error) {
	if db == nil {
		return nil, errors.New("chat: nil mongo database")
	}
	return &MongoDirectory{users: db.Collection("usuarios")}, nil
}

func (d *MongoDirectory) LookupUser(ctx context.Context, id string) (User, error) {
	var doc mongoUser
	err := d.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, notFound("chat.mongo.LookupUser", "user not found")
	}
	if err != nil {
		return User{}, err
	}
	return User{ID: id, DisplayName: displayNameOr(doc.Nombre, doc.Email, id)}, nil
}
