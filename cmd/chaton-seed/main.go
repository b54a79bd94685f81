// chaton-seed fills a development database with sample identities, a
// follow graph, posts and direct messages.
//
// It uses the same configuration as chaton, so it seeds whatever
// database the server would connect to. Every seeded identity signs in
// with the -password value.
//
// Usage:
//
//	./chaton-seed                          # 20 users, 20 posts
//	./chaton-seed -users 50 -posts 200 -config /etc/chaton.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"

	"github.com/primal-host/chaton/internal/account"
	"github.com/primal-host/chaton/internal/config"
	"github.com/primal-host/chaton/internal/content"
	"github.com/primal-host/chaton/internal/database"
	"github.com/primal-host/chaton/internal/message"
	"github.com/primal-host/chaton/internal/social"
)

var (
	adjectives = []string{"amber", "brisk", "calm", "dusty", "eager", "fuzzy", "gentle", "hazy", "icy", "jolly", "keen", "lucky", "misty", "noble", "olive", "plucky", "quiet", "rusty", "sunny", "tidy"}
	nouns      = []string{"otter", "falcon", "maple", "comet", "badger", "harbor", "lantern", "meadow", "pebble", "raven", "willow", "canyon", "ember", "fjord", "grove", "heron", "island", "juniper", "kestrel", "lagoon"}
	cities     = []string{"Lyon", "Porto", "Osaka", "Quito", "Tallinn", "Hobart", "Accra", "Bergen", "Cusco", "Dublin"}
	words      = strings.Fields("the a small quiet river morning city light coffee train window garden letter music road winter market book friend evening walk harbor story late early new old")
)

func main() {
	configPath := flag.String("config", "chaton.json", "Path to the JSON config file")
	users := flag.Int("users", 20, "Number of identities to create")
	posts := flag.Int("posts", 20, "Number of posts to create")
	password := flag.String("password", "chaton-dev", "Password for every seeded identity")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	s := &seeder{
		accounts: account.NewStore(db, nil),
		graph:    social.NewStore(db),
		content:  content.NewStore(db),
		messages: message.NewStore(db),
	}
	if err := s.run(ctx, *users, *posts, *password); err != nil {
		log.Fatalf("Seed failed: %v", err)
	}
}

type seeder struct {
	accounts *account.Store
	graph    *social.Store
	content  *content.Store
	messages *message.Store
}

func (s *seeder) run(ctx context.Context, nUsers, nPosts int, password string) error {
	if nUsers < 2 {
		return errors.New("need at least 2 users")
	}

	created := make([]*account.User, 0, nUsers)
	for len(created) < nUsers {
		name := fmt.Sprintf("%s_%s%d", pick(adjectives), pick(nouns), rand.IntN(1000))
		u, err := s.accounts.Create(ctx, account.CreateParams{
			Email:    name + "@example.com",
			Username: name,
			Password: password,
		})
		if errors.Is(err, account.ErrEmailTaken) || errors.Is(err, account.ErrUsernameTaken) {
			continue
		}
		if err != nil {
			return err
		}

		bio, city := sentence(8), pick(cities)
		if u, _, err = s.accounts.UpdateProfile(ctx, u.ID, account.ProfileUpdate{Bio: &bio, Location: &city}); err != nil {
			return err
		}
		created = append(created, u)
	}
	log.Printf("%d users created", len(created))

	follows := 0
	for _, u := range created {
		perm := rand.Perm(len(created))
		for _, i := range perm[:min(3, len(perm))] {
			other := created[i]
			if other.ID == u.ID {
				continue
			}
			if err := s.graph.Follow(ctx, u.ID, other.ID); err != nil {
				return err
			}
			follows++
		}
	}
	log.Printf("%d follows created", follows)

	for range nPosts {
		author := created[rand.IntN(len(created))]
		if _, err := s.content.CreatePost(ctx, author.ID, sentence(5), sentence(40)); err != nil {
			return err
		}
	}
	log.Printf("%d posts created", nPosts)

	for i, u := range created {
		to := created[(i+1)%len(created)]
		if _, err := s.messages.Create(ctx, u.ID, to.ID, "hi "+to.Username); err != nil {
			return err
		}
		if _, err := s.messages.Create(ctx, to.ID, u.ID, sentence(6)); err != nil {
			return err
		}
	}
	total, err := s.messages.Count(ctx)
	if err != nil {
		return err
	}
	log.Printf("Seed complete (%d messages stored, password %q)", total, password)
	return nil
}

func pick(from []string) string {
	return from[rand.IntN(len(from))]
}

// sentence returns n random words, capitalized and terminated.
func sentence(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = pick(words)
	}
	s := strings.Join(parts, " ")
	return strings.ToUpper(s[:1]) + s[1:] + "."
}
