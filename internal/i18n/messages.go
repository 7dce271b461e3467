package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message/catalog"
)

// translations は英語の文言をキーとした各ロケールの翻訳。
// 英語は登録がなくてもキーがそのまま表示される。
var translations = map[language.Tag]map[string]string{
	language.French: {
		"Sign in": "Connexion",
		"Sign out": "Déconnexion",
		"Email": "Adresse e-mail",
		"Password": "Mot de passe",
		"Current password": "Mot de passe actuel",
		"New password": "Nouveau mot de passe",
		"Change password": "Changer le mot de passe",
		"You must choose a new password before continuing.": "Vous devez choisir un nouveau mot de passe avant de continuer.",
		"Your password has been changed.": "Votre mot de passe a été modifié.",
		"Notifications": "Notifications",
		"No notifications yet.": "Aucune notification pour le moment.",
		"%d unread": "%d non lues",
		"Administration": "Administration",
		"Leader portal": "Espace responsable",
		"Parent portal": "Espace parent",
		"Welcome, %s": "Bienvenue, %s",
		"Units": "Unités",
		"Your children": "Vos enfants",
		"Users": "Utilisateurs",
		"The email or password is incorrect.": "L'adresse e-mail ou le mot de passe est incorrect.",
		"The current password is incorrect.": "Le mot de passe actuel est incorrect.",
		"The new password must be at least %d characters.": "Le nouveau mot de passe doit contenir au moins %d caractères.",
		"Please fill in every field.": "Veuillez remplir tous les champs.",
		"Too many attempts. Please try again later.": "Trop de tentatives. Veuillez réessayer plus tard.",
		"Community portal for leaders and families.": "Le portail des responsables et des familles.",
		"Signed in as %s": "Connecté en tant que %s",
		"Language": "Langue",
		"Mark all as read": "Tout marquer comme lu",
		"Live updates paused. Reload the page to reconnect.": "Mises à jour en direct interrompues. Rechargez la page pour vous reconnecter.",
		"Name": "Nom",
		"Role": "Rôle",
		"Create user": "Créer un utilisateur",
		"Temporary password for %s: %s": "Mot de passe temporaire pour %s : %s",
		"Create unit": "Créer une unité",
		"Parent unit": "Unité parente",
		"(none)": "(aucune)",
		"No units yet.": "Aucune unité pour le moment.",
		"Post announcement": "Publier une annonce",
		"Unit": "Unité",
		"Title": "Titre",
		"Message": "Message",
		"Post": "Publier",
		"Announcement posted.": "Annonce publiée.",
		"Unit created.": "Unité créée.",
		"No children are linked to your account yet.": "Aucun enfant n'est encore associé à votre compte.",
		"Back": "Retour",
		"Something went wrong. Please try again.": "Une erreur s'est produite. Veuillez réessayer.",
		"You can only post to units you lead.": "Vous ne pouvez publier que dans les unités dont vous êtes responsable.",
		"An account already exists for %s.": "Un compte existe déjà pour %s.",
		"The email address is not valid.": "L'adresse e-mail n'est pas valide.",
	},
}

// newCatalog は翻訳カタログを構築する。
func newCatalog() (catalog.Catalog, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range translations {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}
